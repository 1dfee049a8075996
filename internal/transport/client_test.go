package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datallboy/rangedl/internal/domain"
)

func newTestClient() *Client {
	return NewClient(Options{Timeout: 5 * time.Second})
}

func TestProbeHead(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1234)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	res, err := newTestClient().Probe(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Length != 1234 || !res.RangeSupported {
		t.Errorf("Probe = %+v", res)
	}
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	var heads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") != "bytes=0-500" {
			t.Errorf("fallback sent Range %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 0-500/9000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 501))
	}))
	defer srv.Close()

	res, err := newTestClient().Probe(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if heads.Load() != 1 || res.Length != 9000 || !res.RangeSupported {
		t.Errorf("Probe = %+v after %d HEADs", res, heads.Load())
	}
}

func TestProbeRangeIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Length", "700")
		w.Write(make([]byte, 700))
	}))
	defer srv.Close()

	res, err := newTestClient().Probe(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Length != 700 || res.RangeSupported {
		t.Errorf("Probe = %+v", res)
	}
}

func TestProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient().Probe(context.Background(), srv.URL, nil)
	if !errors.Is(err, domain.ErrMetadata) {
		t.Errorf("Probe = %v, want ErrMetadata", err)
	}
}

func TestFetchRange(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua, token := r.Header.Get("User-Agent"), r.Header.Get("X-Token"); ua != DefaultUserAgent || token != "t" {
			t.Errorf("headers sent: user agent %q, token %q", ua, token)
		}
		http.ServeContent(w, r, "f", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	resp, err := newTestClient().FetchRange(context.Background(), srv.URL, http.Header{"X-Token": {"t"}}, 100, 199)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !resp.Partial || !bytes.Equal(body, data[100:200]) {
		t.Errorf("FetchRange returned partial=%t and %d bytes", resp.Partial, len(body))
	}
}

func TestFetchRangeStatuses(t *testing.T) {
	tests := []struct {
		code      int
		throttled bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			_, err := newTestClient().FetchRange(context.Background(), srv.URL, nil, 0, 9)
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, domain.ErrThrottled) != tt.throttled {
				t.Errorf("FetchRange = %v, throttled want %t", err, tt.throttled)
			}
		})
	}
}

func TestFetchRangeRejectsMisplacedRange(t *testing.T) {
	tests := map[string]string{
		"wrong start": "bytes 0-9/100",
		"missing":     "",
		"garbage":     "items 50-59/100",
	}

	for name, contentRange := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if contentRange != "" {
					w.Header().Set("Content-Range", contentRange)
				}
				w.WriteHeader(http.StatusPartialContent)
				w.Write(make([]byte, 10))
			}))
			defer srv.Close()

			resp, err := newTestClient().FetchRange(context.Background(), srv.URL, nil, 50, 59)
			if err == nil {
				resp.Body.Close()
				t.Fatal("expected an error for a range that does not start at 50")
			}
			if errors.Is(err, domain.ErrThrottled) {
				t.Errorf("misplaced range reported as throttling: %v", err)
			}
		})
	}
}

func TestFetchRangeIgnoredRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("whole body"))
	}))
	defer srv.Close()

	resp, err := newTestClient().FetchRange(context.Background(), srv.URL, nil, 5, 9)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Partial {
		t.Error("a 200 response must not be reported as partial")
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in                string
		start, end, total int64
		wantErr           bool
	}{
		{"bytes 0-499/1234", 0, 499, 1234, false},
		{"bytes 500-999/*", 500, 999, -1, false},
		{"0-499/1234", 0, 0, 0, true},
		{"bytes 0-499", 0, 0, 0, true},
		{"bytes x-499/10", 0, 0, 0, true},
		{"bytes 0-499/ten", 0, 0, 0, true},
	}

	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseContentRange(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && (start != tt.start || end != tt.end || total != tt.total) {
			t.Errorf("ParseContentRange(%q) = %d, %d, %d", tt.in, start, end, total)
		}
	}
}
