package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
)

// maxResponseBytes caps how much of a model endpoint reply is read.
const maxResponseBytes = 8 << 20

// StatusError is a non-2xx reply from a model endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, Truncate(e.Body, 200))
}

// Unwrap reports rate limiting and server-side failures as engine unavailability.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests || e.Status >= 500 {
		return common.ErrEngineUnavailable
	}
	return nil
}

// Call describes one JSON exchange with a model endpoint. A nil Body sends a GET.
type Call struct {
	URL     string
	Body    any
	Headers map[string]string
}

// Do performs c and returns the raw reply. Transport failures wrap ErrEngineUnavailable and
// non-2xx replies come back as *StatusError together with the body that was read.
func Do(ctx context.Context, client *http.Client, c Call, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	reqID := uuid.NewString()
	start := time.Now()

	method, payload := http.MethodGet, io.Reader(nil)
	var size int
	if c.Body != nil {
		bs, err := json.Marshal(c.Body)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		method, payload, size = http.MethodPost, bytes.NewReader(bs), len(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	logger.Debug("llm.http.request", "req_id", reqID, "method", method, "url", c.URL, "content_length", size)
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("llm.http.send_failed", "req_id", reqID, "url", c.URL, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %w", common.ErrEngineUnavailable, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("llm.http.body_close_failed", "req_id", reqID, "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", common.ErrEngineUnavailable, err)
	}
	logger.Debug("llm.http.response", "req_id", reqID, "status", resp.StatusCode, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return raw, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// DoJSON performs c and decodes a successful reply into out.
func DoJSON(ctx context.Context, client *http.Client, c Call, out any, logger *slog.Logger) error {
	raw, err := Do(ctx, client, c, logger)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
