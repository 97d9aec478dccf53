package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"taskbridge/internal/queue"
	"taskbridge/internal/store"
)

type fakeQueue struct {
	mu       sync.Mutex
	sent     [][]byte
	groupIDs []string
}

func (q *fakeQueue) Receive(ctx context.Context, waitTime time.Duration) (queue.Receipt, error) {
	return nil, queue.ErrNoMessage
}

func (q *fakeQueue) Send(ctx context.Context, messageGroupID string, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, body)
	q.groupIDs = append(q.groupIDs, messageGroupID)
	return "msg-1", nil
}

func (q *fakeQueue) Ping(ctx context.Context) error { return nil }
func (q *fakeQueue) Close() error                   { return nil }

type memBackend struct {
	mu    sync.Mutex
	items map[string]*store.Item
}

func newMemBackend() *memBackend { return &memBackend{items: make(map[string]*store.Item)} }

func (b *memBackend) Put(_ context.Context, item *store.Item, allowOverwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !allowOverwrite {
		if _, ok := b.items[item.MessageID]; ok {
			return store.ErrKeyAlreadyExists
		}
	}
	cp := *item
	b.items[item.MessageID] = &cp
	return nil
}

func (b *memBackend) Get(_ context.Context, messageID string) (*store.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[messageID]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	cp := *item
	return &cp, nil
}

func newTestProducer(t *testing.T, q queue.Queue, storeClient *store.Client, mode GroupIDMode) *Producer {
	t.Helper()
	p, err := New(q, storeClient, Config{GroupIDMode: mode}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRejectsUnknownGroupIDMode(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	if _, err := New(q, storeClient, Config{GroupIDMode: "bogus"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unrecognised group id mode")
	}
}

func TestPostNonBlockingRecordsSubmitted(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	resp, err := p.PostNonBlocking(context.Background(), map[string]int{"a": 1}, "")
	if err != nil {
		t.Fatalf("PostNonBlocking: %v", err)
	}
	if resp.MessageID == "" || resp.RequestID == "" {
		t.Fatal("expected non-empty message and request IDs")
	}

	status, err := p.RetrieveResultStatus(context.Background(), resp.MessageID)
	if err != nil {
		t.Fatalf("RetrieveResultStatus: %v", err)
	}
	if status != store.StatusSubmitted {
		t.Fatalf("got status %q, want SUBMITTED", status)
	}
}

func TestGroupIDModeGlobalIsConstant(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDGlobal)

	p.PostNonBlocking(context.Background(), 1, "")
	p.PostNonBlocking(context.Background(), 2, "")

	if q.groupIDs[0] != globalGroupID || q.groupIDs[1] != globalGroupID {
		t.Fatalf("expected constant group id %q, got %v", globalGroupID, q.groupIDs)
	}
}

func TestGroupIDModePerRequestVariesByRequest(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	p.PostNonBlocking(context.Background(), 1, "")
	p.PostNonBlocking(context.Background(), 2, "")

	if q.groupIDs[0] == q.groupIDs[1] {
		t.Fatal("expected distinct group IDs per request under GroupIDPerRequest")
	}
}

func TestGroupIDModePerRequestUsesSuppliedRequestID(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	p.PostNonBlocking(context.Background(), 1, "caller-supplied-id")

	if q.groupIDs[0] != "caller-supplied-id" {
		t.Fatalf("got group id %q, want caller-supplied-id", q.groupIDs[0])
	}
}

func TestGroupIDModePerProducerIsStable(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerProducer)

	p.PostNonBlocking(context.Background(), 1, "")
	p.PostNonBlocking(context.Background(), 2, "")

	if q.groupIDs[0] != q.groupIDs[1] {
		t.Fatal("expected identical group ID across requests under GroupIDPerProducer")
	}
}

func TestGroupIDModePerProducerDiffersAcrossInstances(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p1 := newTestProducer(t, q, storeClient, GroupIDPerProducer)
	p2 := newTestProducer(t, q, storeClient, GroupIDPerProducer)

	p1.PostNonBlocking(context.Background(), 1, "")
	p2.PostNonBlocking(context.Background(), 2, "")

	if q.groupIDs[0] == q.groupIDs[1] {
		t.Fatal("expected distinct group IDs across separate Producer instances")
	}
}

func TestPostBlocksUntilResult(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	go func() {
		time.Sleep(20 * time.Millisecond)
		// Simulate a consumer completing the message.
		storeClient.PutResult(context.Background(), "msg-1", map[string]int{"ok": 1}, nil, nil)
	}()

	resp := p.Post(context.Background(), map[string]int{"in": 1}, "", time.Second, 5*time.Millisecond)
	if resp.Status != store.StatusSuccess || resp.StatusCode != 200 {
		t.Fatalf("got response %+v, want SUCCESS/200", resp)
	}
	if resp.MessageID != "msg-1" {
		t.Fatalf("got message id %q, want msg-1", resp.MessageID)
	}
	var decoded map[string]int
	if err := json.Unmarshal(resp.Result, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["ok"] != 1 {
		t.Fatalf("got ok=%d, want 1", decoded["ok"])
	}
}

func TestPostTimesOutAsErrorResponse(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	resp := p.Post(context.Background(), map[string]int{"in": 1}, "", 20*time.Millisecond, 5*time.Millisecond)
	if resp.Status != store.StatusError || resp.StatusCode != 500 {
		t.Fatalf("got response %+v, want ERROR/500", resp)
	}
	if resp.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestRetrieveResultPropagatesErrorStatus(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	storeClient.PutError(context.Background(), "msg-1", errors.New("boom"), nil, nil)

	resp := p.RetrieveResult(context.Background(), "msg-1")
	if resp.Status != store.StatusError || resp.StatusCode != 500 {
		t.Fatalf("got response %+v, want ERROR/500", resp)
	}
}

func TestRetrieveResultSuccess(t *testing.T) {
	q := &fakeQueue{}
	storeClient := store.New(newMemBackend())
	p := newTestProducer(t, q, storeClient, GroupIDPerRequest)

	storeClient.PutResult(context.Background(), "msg-1", map[string]int{"ok": 1}, nil, nil)

	resp := p.RetrieveResult(context.Background(), "msg-1")
	if resp.Status != store.StatusSuccess || resp.StatusCode != 200 {
		t.Fatalf("got response %+v, want SUCCESS/200", resp)
	}
}
