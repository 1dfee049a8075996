package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/datallboy/rangedl/internal/domain"
)

// probeRangeEnd is the last byte requested by the fallback ranged read (bytes=0-500).
const probeRangeEnd = 500

// DefaultUserAgent is sent when the caller's headers do not set one.
const DefaultUserAgent = "rangedl/1.0"

// Transport is everything the engine needs from the network.
type Transport interface {
	Probe(ctx context.Context, url string, header http.Header) (domain.ProbeResult, error)
	FetchRange(ctx context.Context, url string, header http.Header, start, end int64) (*RangeResponse, error)
}

// RangeResponse is an open body of a ranged GET.
type RangeResponse struct {
	Body io.ReadCloser

	// Partial is true for a 206 response. A 200 means the server ignored the
	// Range header and the body starts at byte 0.
	Partial bool

	ContentLength int64
}

type Options struct {
	// Timeout bounds connecting and waiting for response headers, never the body.
	Timeout      time.Duration
	MaxIdleConns int
	UserAgent    string
}

// Client is the net/http implementation of Transport.
type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(opts Options) *Client {
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 64
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		// Raw bytes are required for byte ranges to line up
		DisableCompression: true,
	}

	return &Client{
		http:      &http.Client{Transport: transport},
		userAgent: opts.UserAgent,
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return req, nil
}

// Probe learns the total length and range support of url. A HEAD is tried
// first; servers that reject it or omit Content-Length are asked for the
// first bytes with a ranged GET instead.
func (c *Client) Probe(ctx context.Context, url string, header http.Header) (domain.ProbeResult, error) {
	if res, ok := c.probeHead(ctx, url, header); ok {
		return res, nil
	}

	res, err := c.probeRange(ctx, url, header)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("%w: %s: %v", domain.ErrMetadata, url, err)
	}
	return res, nil
}

func (c *Client) probeHead(ctx context.Context, url string, header http.Header) (domain.ProbeResult, bool) {
	req, err := c.newRequest(ctx, http.MethodHead, url, header)
	if err != nil {
		return domain.ProbeResult{}, false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ProbeResult{}, false
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.ContentLength < 0 {
		return domain.ProbeResult{}, false
	}

	return domain.ProbeResult{
		Length:         resp.ContentLength,
		RangeSupported: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
	}, true
}

func (c *Client) probeRange(ctx context.Context, url string, header http.Header) (domain.ProbeResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, header)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	req.Header.Set("Range", domain.SegmentRange{End: probeRangeEnd}.Header(0))

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return domain.ProbeResult{}, err
		}
		if total < 0 {
			return domain.ProbeResult{}, errors.New("server did not report a total length")
		}
		return domain.ProbeResult{Length: total, RangeSupported: true}, nil

	case http.StatusOK:
		// Range ignored: the whole body is the resource
		if resp.ContentLength >= 0 {
			return domain.ProbeResult{Length: resp.ContentLength}, nil
		}
		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return domain.ProbeResult{}, fmt.Errorf("count body: %w", err)
		}
		return domain.ProbeResult{Length: n}, nil

	default:
		return domain.ProbeResult{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

// FetchRange opens a GET for the inclusive range [start, end]. Rate-limit and
// unavailable responses are reported as domain.ErrThrottled. A 206 whose
// Content-Range does not begin at start is rejected.
func (c *Client) FetchRange(ctx context.Context, url string, header http.Header, start, end int64) (*RangeResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, header)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", domain.SegmentRange{Start: start, End: end}.Header(start))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		got, _, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || got != start {
			resp.Body.Close()
			return nil, fmt.Errorf("server answered range %q for bytes=%d-%d", resp.Header.Get("Content-Range"), start, end)
		}
		return &RangeResponse{
			Body:          resp.Body,
			Partial:       true,
			ContentLength: resp.ContentLength,
		}, nil
	case resp.StatusCode == http.StatusOK:
		return &RangeResponse{
			Body:          resp.Body,
			ContentLength: resp.ContentLength,
		}, nil
	case IsThrottleStatus(resp.StatusCode):
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", domain.ErrThrottled, resp.StatusCode, http.StatusText(resp.StatusCode))
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

// IsThrottleStatus reports whether code means "not now" rather than failure.
func IsThrottleStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	header = strings.TrimPrefix(header, "bytes ")

	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
