package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"

	"github.com/MrWong99/scribehook/pkg/provider/delivery"
	"github.com/MrWong99/scribehook/pkg/provider/delivery/nats"
)

// startServer runs an embedded JetStream-enabled server on a random port.
func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestDeliver_JetStream(t *testing.T) {
	ns := startServer(t)

	nc, err := natsgo.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("JetStream: %v", err)
	}
	if _, err := js.AddStream(&natsgo.StreamConfig{Name: "TRANSCRIPTS", Subjects: []string{"transcripts.>"}}); err != nil {
		t.Fatalf("AddStream: %v", err)
	}

	p, err := nats.Connect(nats.Config{URL: ns.ClientURL()})
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	defer p.Close()
	if !p.Healthy() {
		t.Fatal("Healthy() = false after connect")
	}

	if err := p.Deliver(context.Background(), "transcripts.mic", "merhaba"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	msg, err := js.GetLastMsg("TRANSCRIPTS", "transcripts.mic")
	if err != nil {
		t.Fatalf("GetLastMsg: %v", err)
	}
	var got delivery.Payload
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Transcript != "merhaba" {
		t.Errorf("transcript = %q; want merhaba", got.Transcript)
	}
}

func TestDeliver_NoStreamIsRejected(t *testing.T) {
	ns := startServer(t)

	p, err := nats.Connect(nats.Config{URL: ns.ClientURL()})
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Deliver(ctx, "unbound.subject", "x")
	var rej *delivery.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v; want *RejectedError", err)
	}
	if rej.StatusCode != 503 {
		t.Errorf("StatusCode = %d; want 503", rej.StatusCode)
	}
}

func TestDeliver_CoreOnly(t *testing.T) {
	ns := startServer(t)

	sub, err := natsgo.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sub.Close()
	ch := make(chan *natsgo.Msg, 1)
	if _, err := sub.ChanSubscribe("hook", ch); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	p, err := nats.Connect(nats.Config{URL: ns.ClientURL(), CoreOnly: true})
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	defer p.Close()

	if err := p.Deliver(context.Background(), "hook", "selam"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg.Data) != `{"transcript":"selam"}` {
			t.Errorf("data = %s", msg.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestConnect_EmptyURL(t *testing.T) {
	if _, err := nats.Connect(nats.Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
