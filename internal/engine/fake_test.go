package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datallboy/rangedl/internal/domain"
	"github.com/datallboy/rangedl/internal/transport"
)

type rangeCall struct {
	start, end int64
}

// fakeTransport serves a byte slice. fetch, when set, overrides the default
// behaviour of answering every range with a 206.
type fakeTransport struct {
	data           []byte
	rangeSupported bool
	probeErr       error

	fetch func(ctx context.Context, start, end int64) (*transport.RangeResponse, error)

	probes atomic.Int32
	mu     sync.Mutex
	calls  []rangeCall
	notify chan rangeCall
}

func newFakeTransport(data []byte) *fakeTransport {
	return &fakeTransport{data: data, rangeSupported: true, notify: make(chan rangeCall, 64)}
}

func (f *fakeTransport) Probe(ctx context.Context, url string, header http.Header) (domain.ProbeResult, error) {
	f.probes.Add(1)
	if f.probeErr != nil {
		return domain.ProbeResult{}, f.probeErr
	}
	return domain.ProbeResult{Length: int64(len(f.data)), RangeSupported: f.rangeSupported}, nil
}

func (f *fakeTransport) FetchRange(ctx context.Context, url string, header http.Header, start, end int64) (*transport.RangeResponse, error) {
	call := rangeCall{start, end}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	select {
	case f.notify <- call:
	default:
	}

	if f.fetch != nil {
		return f.fetch(ctx, start, end)
	}
	return f.serve(start, end), nil
}

func (f *fakeTransport) serve(start, end int64) *transport.RangeResponse {
	if !f.rangeSupported {
		return &transport.RangeResponse{Body: io.NopCloser(bytes.NewReader(f.data)), ContentLength: int64(len(f.data))}
	}
	body := f.data[start : end+1]
	return &transport.RangeResponse{Body: io.NopCloser(bytes.NewReader(body)), Partial: true, ContentLength: int64(len(body))}
}

func (f *fakeTransport) Calls() []rangeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rangeCall(nil), f.calls...)
}

// nextCall waits for the next FetchRange call.
func (f *fakeTransport) nextCall(t *testing.T) rangeCall {
	t.Helper()
	select {
	case c := <-f.notify:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a range request")
		return rangeCall{}
	}
}

// gatedBody blocks until gate is closed, then serves r. A cancelled context
// fails the read the way a real response body does.
type gatedBody struct {
	ctx  context.Context
	gate <-chan struct{}
	r    io.Reader
}

func (g *gatedBody) Read(p []byte) (int, error) {
	select {
	case <-g.gate:
	case <-g.ctx.Done():
		return 0, g.ctx.Err()
	}
	if err := g.ctx.Err(); err != nil {
		return 0, err
	}
	return g.r.Read(p)
}

func (g *gatedBody) Close() error { return nil }

func gated(ctx context.Context, gate <-chan struct{}, data []byte) *transport.RangeResponse {
	return &transport.RangeResponse{
		Body:          &gatedBody{ctx: ctx, gate: gate, r: bytes.NewReader(data)},
		Partial:       true,
		ContentLength: int64(len(data)),
	}
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("connection reset by peer")
