package transport

import "time"

// Config holds connection manager settings.
type Config struct {
	URL                  string
	DialTimeout          time.Duration
	RequestTimeout       time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	ProbeInterval        time.Duration
	ProbeTimeout         time.Duration
	ForceReconnectDelay  time.Duration
}

// DefaultConfig returns the stock settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		DialTimeout:          20 * time.Second,
		RequestTimeout:       10 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		ProbeInterval:        30 * time.Second,
		ProbeTimeout:         10 * time.Second,
		ForceReconnectDelay:  time.Second,
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): the base
// delay doubled per attempt, capped at the max delay.
func (c Config) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.ReconnectBaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.ReconnectMaxDelay {
			return c.ReconnectMaxDelay
		}
	}
	if d > c.ReconnectMaxDelay {
		return c.ReconnectMaxDelay
	}
	return d
}
