package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		os.Exit(cmdStatus(sessionName, *jsonFlag))
	case "watch":
		os.Exit(cmdWatch(sessionName, *jsonFlag))
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			os.Exit(cmdSessionsList())
		}
		fmt.Fprintln(os.Stderr, "usage: chatctl sessions list")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show connection health")
	fmt.Fprintln(os.Stderr, "  watch            Stream connection health changes")
	fmt.Fprintln(os.Stderr, "  sessions list    List known sessions")
}

func dial(sessionName string) (*grpc.ClientConn, error) {
	return grpc.NewClient("unix://"+session.SocketPath(sessionName),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func cmdStatus(sessionName string, jsonOut bool) int {
	conn, err := dial(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		return 1
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.ServiceName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: daemon for session %q not reachable: %v\n", sessionName, err)
		return 1
	}
	if jsonOut {
		return outputJSON(resp)
	}
	fmt.Printf("Session: %s\n", sessionName)
	fmt.Printf("Status:  %s\n", resp.GetStatus())
	if pid, err := lock.Holder(session.LockPath(sessionName)); err == nil && pid > 0 {
		fmt.Printf("PID:     %d\n", pid)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return 2
	}
	return 0
}

func cmdWatch(sessionName string, jsonOut bool) int {
	conn, err := dial(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = conn.Close() }()

	stream, err := healthpb.NewHealthClient(conn).Watch(context.Background(), &healthpb.HealthCheckRequest{Service: daemon.ServiceName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "watch ended: %v\n", err)
			return 1
		}
		if jsonOut {
			outputJSON(resp)
			continue
		}
		fmt.Printf("%s %s\n", time.Now().Format(time.TimeOnly), resp.GetStatus())
	}
}

func cmdSessionsList() int {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(entries) == 0) {
		fmt.Println("No sessions found.")
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		running := "stopped"
		if pid, err := lock.Holder(session.LockPath(e.Name())); err == nil && pid > 0 {
			running = fmt.Sprintf("running, pid %d", pid)
		}
		fmt.Printf("%-20s %s (%s)\n", e.Name(), session.Dir(e.Name()), running)
	}
	return 0
}

func outputJSON(resp *healthpb.HealthCheckResponse) int {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
