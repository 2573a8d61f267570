package jobs

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type signalExecutor struct {
	ids chan string
}

func (s *signalExecutor) Execute(_ context.Context, id string) error {
	s.ids <- id
	return nil
}

func TestNATSDispatcher_DeliversOncePerQueueGroup(t *testing.T) {
	nc := startTestNATS(t)
	d := NewNATSDispatcher(nc, "")

	first := &signalExecutor{ids: make(chan string, 4)}
	second := &signalExecutor{ids: make(chan string, 4)}
	for _, exec := range []*signalExecutor{first, second} {
		sub, err := d.Serve(exec)
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
		t.Cleanup(func() { sub.Unsubscribe() })
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := d.Dispatch(context.Background(), "job-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var got string
	select {
	case got = <-first.ids:
	case got = <-second.ids:
	case <-time.After(3 * time.Second):
		t.Fatal("job trigger not delivered")
	}
	if got != "job-1" {
		t.Errorf("executed %q, want job-1", got)
	}

	select {
	case id := <-first.ids:
		t.Errorf("trigger delivered twice (%s)", id)
	case id := <-second.ids:
		t.Errorf("trigger delivered twice (%s)", id)
	case <-time.After(200 * time.Millisecond):
	}
}
