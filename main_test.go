package main

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func runControlCommand(t *testing.T, line string, shutdown chan string) string {
	t.Helper()

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		handleControlCommand(server, nil, shutdown)
		close(done)
	}()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	<-done
	return reply
}

func TestControlShutdownReason(t *testing.T) {
	shutdown := make(chan string, 1)

	reply := runControlCommand(t, "shutdown|upgrade", shutdown)
	if reply != "OK|Shutting down (upgrade)\n" {
		t.Errorf("unexpected reply %q", reply)
	}

	select {
	case reason := <-shutdown:
		if reason != "upgrade" {
			t.Errorf("expected reason upgrade, got %q", reason)
		}
	default:
		t.Fatal("shutdown not signalled")
	}
}

func TestControlShutdownDefaultReason(t *testing.T) {
	shutdown := make(chan string, 1)

	reply := runControlCommand(t, "shutdown", shutdown)
	if reply != "OK|Shutting down (maintenance)\n" {
		t.Errorf("unexpected reply %q", reply)
	}
	if reason := <-shutdown; reason != "maintenance" {
		t.Errorf("expected default reason, got %q", reason)
	}
}

func TestControlUnknownCommand(t *testing.T) {
	reply := runControlCommand(t, "reboot", make(chan string, 1))
	if reply != "ERROR|Unknown command\n" {
		t.Errorf("unexpected reply %q", reply)
	}
}
