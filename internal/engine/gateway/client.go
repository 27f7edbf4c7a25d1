// Package gateway provides the hosted chat-completion gateway client.
//
// The gateway is consumed as an opaque streaming text endpoint: the
// client posts a chat history and reads server-sent "data:" lines until
// the terminal [DONE] marker.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/thebtf/recall/internal/engine"
)

// Config holds gateway client configuration.
type Config struct {
	URL   string // Gateway chat-completion endpoint
	Token string // Optional bearer token
}

// Client streams chat completions from the hosted gateway.
type Client struct {
	url   string
	token string
}

// NewClient creates a gateway client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway URL required")
	}
	return &Client{url: cfg.URL, token: cfg.Token}, nil
}

// chunk is one streamed delta from the gateway.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate streams a completion for messages, pushing each text
// fragment to onToken until the stream's [DONE] marker.
func (c *Client) Generate(ctx context.Context, messages []engine.Message, onToken engine.TokenFunc) error {
	body, err := json.Marshal(map[string]any{
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var ch chunk
		if err := json.Unmarshal([]byte(payload), &ch); err != nil {
			continue // tolerate keep-alives and unknown events
		}
		for _, choice := range ch.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onToken(choice.Delta.Content); err != nil {
				return nil // consumer cancelled, stop forwarding
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gateway stream: %w", err)
	}
	return nil
}
