// Package runtime provides HTTP clients for the local model runtime.
//
// The runtime is a llama-server style sidecar on localhost. Model loads
// stream NDJSON progress events; embeddings and completions are plain
// JSON endpoints. One client instance manages exactly one model.
package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/engine"
)

// Config holds runtime client configuration.
type Config struct {
	BaseURL string        // Runtime base URL, e.g. http://127.0.0.1:8080
	Model   string        // Model file name known to the runtime
	Dim     int           // Embedding dimension (embedding models only)
	Timeout time.Duration // Per-request timeout for non-streaming calls
}

// Client talks to the local runtime for a single model.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dim        int
	loaded     atomic.Bool
}

// NewClient creates a runtime client. The model is not loaded until
// Load is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("runtime base URL required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		dim:     cfg.Dim,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// loadEvent is one NDJSON progress line from the runtime load stream.
type loadEvent struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Progress int    `json:"progress"`
}

// Load asks the runtime to load the model, forwarding streamed progress.
// Progress forwarded to onProgress is clamped monotonically non-decreasing.
func (c *Client) Load(ctx context.Context, onProgress engine.LoadProgressFunc) error {
	body, err := json.Marshal(map[string]string{"model": c.model})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/load", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Streaming response, no client timeout: model loads can take minutes.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("runtime load request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runtime load failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	lastPct := 0
	report := func(pct int) {
		if pct < lastPct {
			pct = lastPct
		}
		if pct > 100 {
			pct = 100
		}
		lastPct = pct
		if onProgress != nil {
			onProgress(pct)
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev loadEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Debug().Str("model", c.model).Str("line", line).Msg("Skipping malformed load event")
			continue
		}
		switch ev.Status {
		case "error":
			return fmt.Errorf("runtime load failed: %s", ev.Error)
		case "ready":
			report(100)
			c.loaded.Store(true)
			return nil
		default:
			report(ev.Progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("runtime load stream: %w", err)
	}
	return fmt.Errorf("runtime load stream ended before ready")
}

// Unload releases the model on the runtime. Unloading a model that was
// never loaded is a no-op.
func (c *Client) Unload(ctx context.Context) error {
	if !c.loaded.Load() {
		return nil
	}

	body, err := json.Marshal(map[string]string{"model": c.model})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/unload", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runtime unload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime unload failed: %s", resp.Status)
	}
	c.loaded.Store(false)
	return nil
}

// Loaded reports whether Load has completed successfully.
func (c *Client) Loaded() bool {
	return c.loaded.Load()
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int {
	return c.dim
}

// Embed requests an embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.loaded.Load() {
		return nil, engine.ErrNotLoaded
	}

	body, err := json.Marshal(map[string]string{"model": c.model, "content": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embedding", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("runtime embedding failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("runtime returned empty embedding")
	}
	if c.dim > 0 && len(out.Embedding) != c.dim {
		return nil, fmt.Errorf("runtime returned %d dims, expected %d", len(out.Embedding), c.dim)
	}
	return out.Embedding, nil
}

// completionChunk is one streamed completion line from the runtime.
type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Generate streams a completion for messages, pushing each fragment to
// onToken. Delivery stops when onToken returns an error or ctx is
// cancelled; the runtime may keep generating until it notices the
// closed connection.
func (c *Client) Generate(ctx context.Context, messages []engine.Message, onToken engine.TokenFunc) error {
	if !c.loaded.Load() {
		return engine.ErrNotLoaded
	}

	body, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Streaming response, no client timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("runtime completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runtime completion failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Debug().Str("model", c.model).Msg("Skipping malformed completion chunk")
			continue
		}
		if chunk.Content != "" {
			if err := onToken(chunk.Content); err != nil {
				return nil // consumer cancelled, stop forwarding
			}
		}
		if chunk.Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("runtime completion stream: %w", err)
	}
	return nil
}
