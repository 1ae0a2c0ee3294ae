// Package probe executes HTTP checks against monitors and validates the
// responses. Transport failures are captured in the result, never returned
// as errors: a probe always produces a CheckResult.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/filipmarinca/api-monitor/internal/model"
)

const (
	// MaxBodyCapture bounds the response body kept for audit.
	MaxBodyCapture = 10000
	// DefaultMaxRedirects bounds redirect following per probe.
	DefaultMaxRedirects = 5

	userAgent = "api-monitor/1.0"
)

// Checker performs HTTP checks. It holds two shared transports, one
// verifying TLS and one not, selected per monitor.
type Checker struct {
	maxRedirects int
	verifying    *http.Transport
	insecure     *http.Transport
}

// NewChecker creates a Checker with default redirect bounds.
func NewChecker() *Checker {
	return &Checker{
		maxRedirects: DefaultMaxRedirects,
		verifying: &http.Transport{
			MaxIdleConnsPerHost: 4,
		},
		insecure: &http.Transport{
			MaxIdleConnsPerHost: 4,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Check runs one probe against the monitor from the given region. The
// monitor's timeout bounds the whole request; latency is wall-clock from
// dispatch to the final body byte.
func (c *Checker) Check(ctx context.Context, m *model.Monitor, region string) *model.CheckResult {
	result := &model.CheckResult{
		MonitorID:   m.ID,
		Region:      region,
		RequestedAt: time.Now().UTC(),
	}

	timeout := m.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	fail := func(msg string) *model.CheckResult {
		result.LatencyMs = time.Since(start).Milliseconds()
		result.Success = false
		result.Error = msg
		return result
	}

	req, err := c.buildRequest(ctx, m)
	if err != nil {
		return fail(fmt.Sprintf("invalid request: %v", err))
	}

	client := &http.Client{
		Transport:     c.transport(m),
		CheckRedirect: c.checkRedirect,
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(fmt.Sprintf("timeout after %dms", timeout.Milliseconds()))
		}
		return fail(transportError(err))
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxBodyCapture))
	result.LatencyMs = time.Since(start).Milliseconds()
	if readErr != nil {
		if errors.Is(readErr, context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("timeout after %dms", timeout.Milliseconds())
		} else {
			result.Error = fmt.Sprintf("failed to read response body: %v", readErr)
		}
		result.StatusCode = resp.StatusCode
		return result
	}

	result.StatusCode = resp.StatusCode
	result.ResponseHeaders = captureHeaders(resp.Header)
	result.ResponseBody = string(body)

	// TLS info is captured opportunistically; a missing handshake state
	// (plain HTTP, or a redirect that crossed to HTTP) never fails the probe.
	captureTLS(resp, result)

	ok, reason := validateResponse(m, resp.StatusCode, body)
	result.Success = ok
	if !ok {
		result.Error = reason
		slog.Debug("Probe validation failed",
			"monitor_id", m.ID,
			"region", region,
			"reason", reason,
		)
	}

	return result
}

// BatchCheck probes all monitors concurrently from one region and returns
// results keyed by monitor ID. Individual probe failures never abort the
// batch.
func (c *Checker) BatchCheck(ctx context.Context, monitors []*model.Monitor, region string) map[string]*model.CheckResult {
	results := make(map[string]*model.CheckResult, len(monitors))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, m := range monitors {
		wg.Add(1)
		go func(m *model.Monitor) {
			defer wg.Done()
			r := c.Check(ctx, m, region)
			mu.Lock()
			results[m.ID] = r
			mu.Unlock()
		}(m)
	}

	wg.Wait()
	return results
}

func (c *Checker) buildRequest(ctx context.Context, m *model.Monitor) (*http.Request, error) {
	method := strings.ToUpper(m.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if m.Body != "" {
			body = strings.NewReader(m.Body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, m.URL, body)
	if err != nil {
		return nil, err
	}

	for k, v := range m.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req, nil
}

func (c *Checker) transport(m *model.Monitor) *http.Transport {
	if m.ValidateSSL {
		return c.verifying
	}
	return c.insecure
}

func (c *Checker) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		return fmt.Errorf("stopped after %d redirects", c.maxRedirects)
	}
	return nil
}

// captureHeaders keeps the first value of every response header.
func captureHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

// captureTLS records certificate validity and expiry from the response's
// handshake state when present.
func captureTLS(resp *http.Response, result *model.CheckResult) {
	state := resp.TLS
	if state == nil || len(state.PeerCertificates) == 0 {
		return
	}
	leaf := state.PeerCertificates[0]
	expiry := leaf.NotAfter
	now := time.Now()
	result.SSLValid = now.After(leaf.NotBefore) && now.Before(expiry)
	result.SSLExpiresAt = &expiry
}

// transportError turns a transport-level failure into a short message. The
// url.Error wrapper repeats the method and URL, which the check record
// already carries.
func transportError(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}
	return err.Error()
}
