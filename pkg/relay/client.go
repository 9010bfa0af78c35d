package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xhad/docrag/pkg/rag"
	"go.uber.org/zap"
)

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration // whole-request timeout, streaming included
}

// Client talks to a docrag backend over HTTP.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// Health is the backend's /health payload.
type Health struct {
	OK       bool `json:"ok"`
	Sessions int  `json:"sessions"`
}

type invokeRequest struct {
	Input map[string]string `json:"input"`
}

type invokeResponse struct {
	Output string `json:"output"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Ingest uploads the PDF at path.
func (c *Client) Ingest(ctx context.Context, path string) (rag.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return rag.IngestResult{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return rag.IngestResult{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return rag.IngestResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return rag.IngestResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/ingest", &body)
	if err != nil {
		return rag.IngestResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result rag.IngestResult
	if err := c.doJSON(req, &result); err != nil {
		return rag.IngestResult{}, err
	}
	return result, nil
}

// Chat returns the complete answer to question.
func (c *Client) Chat(ctx context.Context, sessionID, question string) (string, error) {
	return c.invoke(ctx, "/chat/invoke", map[string]string{"session_id": sessionID, "question": question})
}

// Summarize returns the complete summary of the session's document.
func (c *Client) Summarize(ctx context.Context, sessionID string) (string, error) {
	return c.invoke(ctx, "/summarize/invoke", map[string]string{"session_id": sessionID})
}

// ChatStream starts a streamed answer. The caller must Close the reader.
func (c *Client) ChatStream(ctx context.Context, sessionID, question string) (*Reader, error) {
	return c.stream(ctx, "/chat/stream", map[string]string{"session_id": sessionID, "question": question})
}

// SummarizeStream starts a streamed summary. The caller must Close the reader.
func (c *Client) SummarizeStream(ctx context.Context, sessionID string) (*Reader, error) {
	return c.stream(ctx, "/summarize/stream", map[string]string{"session_id": sessionID})
}

// CloseSession drops a session on the backend and reports whether it existed.
func (c *Client) CloseSession(ctx context.Context, sessionID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.BaseURL+"/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Closed bool `json:"closed"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return false, err
	}
	return out.Closed, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := c.doJSON(req, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

func (c *Client) invoke(ctx context.Context, path string, input map[string]string) (string, error) {
	req, err := c.newInputRequest(ctx, path, input)
	if err != nil {
		return "", err
	}
	var out invokeResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

func (c *Client) stream(ctx context.Context, path string, input map[string]string) (*Reader, error) {
	req, err := c.newInputRequest(ctx, path, input)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return NewReader(resp.Body, WithLogger(c.logger)), nil
}

func (c *Client) newInputRequest(ctx context.Context, path string, input map[string]string) (*http.Request, error) {
	body, err := json.Marshal(invokeRequest{Input: input})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e errorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Detail != "" {
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, e.Detail)
	}
	return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
