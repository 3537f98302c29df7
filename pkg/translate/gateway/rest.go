package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
)

// The gateway exposes a small REST API next to the socket: measurement
// session control plus discovery of languages and audio configuration. All
// calls go through the same base URL and HTTP client as the handshake.

// Language is one entry of the gateway's supported-language list.
type Language struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ServerConfig is the audio configuration the gateway advertises to clients.
type ServerConfig struct {
	SampleRate int `json:"sampleRate"`
	ChunkSize  int `json:"chunkSize"`
	Channels   int `json:"channels"`
}

// TestEvent is one server-side timing event from a measurement session.
// WallClock is seconds relative to the server's test start.
type TestEvent struct {
	Stage             string  `json:"stage"`
	Timestamp         float64 `json:"timestamp"`
	ChunkIndex        int     `json:"chunk_index"`
	SourcePositionSec float64 `json:"source_position_sec"`
	AudioBytesLen     int     `json:"audio_bytes_len"`
	WallClock         float64 `json:"wall_clock"`
}

// StartTest begins a server-side timing measurement session, clearing the
// gateway's event log.
func (c *Client) StartTest(ctx context.Context) error {
	return c.post(ctx, "/api/test/start")
}

// StopTest ends the server-side timing measurement session.
func (c *Client) StopTest(ctx context.Context) error {
	return c.post(ctx, "/api/test/stop")
}

// ExportEvents fetches all timing events recorded by the gateway during the
// current or most recent measurement session.
func (c *Client) ExportEvents(ctx context.Context) ([]TestEvent, error) {
	var out struct {
		Events []TestEvent `json:"events"`
	}
	if err := c.get(ctx, "/api/test/export", &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Languages fetches the gateway's supported target languages.
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	var out struct {
		Languages []Language `json:"languages"`
	}
	if err := c.get(ctx, "/api/languages", &out); err != nil {
		return nil, err
	}
	return out.Languages, nil
}

// Config fetches the audio configuration the gateway expects clients to use.
func (c *Client) Config(ctx context.Context) (*ServerConfig, error) {
	var out ServerConfig
	if err := c.get(ctx, "/api/config", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) restURL(p string) string {
	u := *c.base
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (c *Client) get(ctx context.Context, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL(p), nil)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: GET %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxPayloadLog))
		return fmt.Errorf("gateway: GET %s: status %d: %s", p, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: GET %s: decode: %w", p, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, p string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restURL(p), nil)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: POST %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxPayloadLog))
		return fmt.Errorf("gateway: POST %s: status %d: %s", p, resp.StatusCode, body)
	}
	// Responses are {"status":"started"} / {"status":"stopped"}; drain so the
	// connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
