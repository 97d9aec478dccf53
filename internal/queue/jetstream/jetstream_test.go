package jetstream

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

func startTestServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("start nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not become ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func newTestQueue(t *testing.T, maxDeliver int) (*Queue, string) {
	t.Helper()
	srv := startTestServer(t)
	q, err := New(srv.ClientURL(), Options{
		StreamName:  "TEST_STREAM",
		Subject:     "test.requests",
		DurableName: "test-consumer",
		AckWait:     200 * time.Millisecond,
		MaxDeliver:  maxDeliver,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, srv.ClientURL()
}

func TestSendReceiveDelete(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	if _, err := q.Send(ctx, "group-1", []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	receipt, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(receipt.Envelope().Body) != `{"hello":"world"}` {
		t.Fatalf("got body %q", receipt.Envelope().Body)
	}
	if receipt.Envelope().MessageGroupID != "group-1" {
		t.Fatalf("got group %q, want group-1", receipt.Envelope().MessageGroupID)
	}

	if err := receipt.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestReceiveTimesOutWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	_, err := q.Receive(context.Background(), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected ErrNoMessage, got nil")
	}
}

func TestSameGroupMessagesAreNotDroppedAsDuplicates(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	if _, err := q.Send(ctx, "shared-group", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if _, err := q.Send(ctx, "shared-group", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	first, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	if string(first.Envelope().Body) != `{"n":1}` {
		t.Fatalf("got body %q, want first message", first.Envelope().Body)
	}
	first.Delete(ctx)

	second, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("second Receive: %v (second message in the same group must not be dropped as a duplicate)", err)
	}
	if string(second.Envelope().Body) != `{"n":2}` {
		t.Fatalf("got body %q, want second message", second.Envelope().Body)
	}
	second.Delete(ctx)
}

func TestRedeliveryIncrementsReceiveCount(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	if _, err := q.Send(ctx, "group-1", []byte("payload")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	first, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	if first.Envelope().ReceiveCount != 1 {
		t.Fatalf("got receive count %d, want 1", first.Envelope().ReceiveCount)
	}

	// Let AckWait expire without acking or extending, forcing redelivery.
	time.Sleep(400 * time.Millisecond)

	second, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if second.Envelope().ReceiveCount != 2 {
		t.Fatalf("got receive count %d, want 2", second.Envelope().ReceiveCount)
	}
	second.Delete(ctx)
}
