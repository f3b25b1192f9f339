package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

var _ llm.Generator = (*Client)(nil)

// Ready reports whether an API key is configured.
func (c *Client) Ready() bool {
	return c.cfg.APIKey != ""
}

// Generate sends a single user message and returns the first choice's content.
// A provider error payload or an empty choice list yields "" with a nil error.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !c.Ready() {
		return "", common.EngineUnavailable("llm engine")
	}
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.generate.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"prompt_len", len(prompt),
		"max_tokens", maxTokens,
	)

	body := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
				},
			},
		},
		"max_tokens":  maxTokens,
		"temperature": c.cfg.Temperature,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"HTTP-Referer":  c.cfg.Referer,
		"X-Title":       c.cfg.Title,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := llm.Do(ctx, c.httpClient, llm.Call{URL: endpoint, Body: body, Headers: headers}, c.log)
	if err != nil {
		c.log.Error("llm.generate.http_error",
			"req_id", rid, "error", err, "body", llm.Truncate(string(raw), 500),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("openrouter request: %w", err)
	}

	var cc struct {
		Error   json.RawMessage `json:"error"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.generate.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("decode openrouter response: %w", err)
	}
	if len(cc.Error) > 0 && string(cc.Error) != "null" {
		c.log.Warn("llm.generate.provider_error", "req_id", rid, "error", string(cc.Error))
		return "", nil
	}
	if len(cc.Choices) == 0 {
		c.log.Warn("llm.generate.no_choices",
			"req_id", rid, "raw", llm.Truncate(string(raw), 500),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", nil
	}
	content := cc.Choices[0].Message.Content
	if content == "" {
		c.log.Warn("llm.generate.empty_content", "req_id", rid)
	}

	c.log.Info("llm.generate.ok",
		"req_id", rid,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}
