package daemon

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service reporting the event-stream connection.
// The empty service name reports the same status.
const ServiceName = "chatsync.Session"

// Health mirrors the connection state into a gRPC health server: SERVING
// while connected and healthy, NOT_SERVING otherwise.
type Health struct {
	srv    *health.Server
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	serving bool
	stop    chan struct{}
	done    chan struct{}
}

func NewHealth(b *bus.Bus, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Health{srv: health.NewServer(), bus: b, logger: logger}
	h.apply(false)
	return h
}

// Server returns the gRPC health implementation to register.
func (h *Health) Server() healthpb.HealthServer { return h.srv }

// Start follows connection events until Stop.
func (h *Health) Start() {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	stop, done := h.stop, h.done
	h.mu.Unlock()

	events, unsubscribe := h.bus.Subscribe("conn.", 64)
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-stop:
				return
			case evt := <-events:
				h.observe(evt)
			}
		}
	}()
}

// Stop ends the watch and reports NOT_SERVING to remaining watchers.
func (h *Health) Stop() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	h.srv.Shutdown()
}

func (h *Health) observe(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		h.Set(p.To == status.Connected)
	case bus.HealthChanged:
		h.Set(p.Healthy)
	case bus.Disconnected:
		h.Set(false)
	}
}

// Set records whether the core is serving.
func (h *Health) Set(serving bool) {
	h.mu.Lock()
	changed := h.serving != serving
	h.serving = serving
	h.mu.Unlock()
	if changed {
		h.logger.Info("health changed", zap.Bool("serving", serving))
		h.apply(serving)
	}
}

func (h *Health) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serving
}

func (h *Health) apply(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
