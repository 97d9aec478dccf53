package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeRunner struct{ running bool }

func (f fakeRunner) IsRunning() bool { return f.running }

type fakeBusy struct{ busy bool }

func (f fakeBusy) IsBusy() bool { return f.busy }

func doRequest(t *testing.T, srv *Server, method, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	return resp
}

func TestHealthReportsRunning(t *testing.T) {
	srv := New(zap.NewNop(), fakePinger{}, fakePinger{}, fakeRunner{running: true}, fakeBusy{})
	resp := doRequest(t, srv, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestHealthReportsStopped(t *testing.T) {
	srv := New(zap.NewNop(), fakePinger{}, fakePinger{}, fakeRunner{running: false}, fakeBusy{})
	resp := doRequest(t, srv, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", resp.StatusCode)
	}
}

func TestReadyFailsWhenQueueUnreachable(t *testing.T) {
	srv := New(zap.NewNop(), fakePinger{err: errors.New("down")}, fakePinger{}, fakeRunner{running: true}, fakeBusy{})
	resp := doRequest(t, srv, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", resp.StatusCode)
	}
}

func TestReadySucceedsWhenBothReachable(t *testing.T) {
	srv := New(zap.NewNop(), fakePinger{}, fakePinger{}, fakeRunner{running: true}, fakeBusy{})
	resp := doRequest(t, srv, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestBusyReturns503WhenProcessing(t *testing.T) {
	srv := New(zap.NewNop(), fakePinger{}, fakePinger{}, fakeRunner{running: true}, fakeBusy{busy: true})
	resp := doRequest(t, srv, http.MethodGet, "/busy")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", resp.StatusCode)
	}
}

func TestBusyReturns200WhenFree(t *testing.T) {
	srv := New(zap.NewNop(), fakePinger{}, fakePinger{}, fakeRunner{running: true}, fakeBusy{busy: false})
	resp := doRequest(t, srv, http.MethodGet, "/busy")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}
