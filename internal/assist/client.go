package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrExchange marks a failed /generate_answer call: network error, non-2xx
// status or a body that carries neither a reply nor a transcript. Callers
// surface a transient notice and leave the conversation log untouched.
var ErrExchange = errors.New("assist: exchange failed")

// Message is the wire shape of one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExchangeKind tags the two response shapes of the answering service.
type ExchangeKind int

const (
	// ExchangeReply carries a single assistant reply to append.
	ExchangeReply ExchangeKind = iota
	// ExchangeResync carries a full replacement transcript; the local log is
	// rebuilt wholesale from it.
	ExchangeResync
)

// ExchangeResult is the tagged outcome of one answer exchange.
type ExchangeResult struct {
	Kind       ExchangeKind
	Reply      string
	Transcript []Message
}

// Client talks to the avi answering/analysis/summary backend. All four
// endpoints share the base URL and a static API key header.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
	}
}

type exchangeRequest struct {
	ChatHistory []Message `json:"Chat History"`
}

type exchangeResponse struct {
	ChatHistory []Message `json:"Chat History"`
	Answer      string    `json:"answer"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

// GenerateAnswer sends the full ordered transcript and returns either a
// single reply or a replacement transcript.
func (c *Client) GenerateAnswer(ctx context.Context, history []Message) (ExchangeResult, error) {
	if c.APIKey == "" {
		return ExchangeResult{}, fmt.Errorf("%w: api key missing", ErrExchange)
	}
	reqBody, _ := json.Marshal(exchangeRequest{ChatHistory: history})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate_answer", bytes.NewReader(reqBody))
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return ExchangeResult{}, fmt.Errorf("%w: status=%d body=%s", ErrExchange, resp.StatusCode, string(b))
	}
	var er exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return ExchangeResult{}, fmt.Errorf("%w: decode: %v", ErrExchange, err)
	}
	if len(er.ChatHistory) > 0 {
		return ExchangeResult{Kind: ExchangeResync, Transcript: er.ChatHistory}, nil
	}
	if answer := strings.TrimSpace(er.Answer); answer != "" {
		return ExchangeResult{Kind: ExchangeReply, Reply: answer}, nil
	}
	return ExchangeResult{}, fmt.Errorf("%w: response carries neither transcript nor answer", ErrExchange)
}

// ClassifyDocument runs the first analysis stage and returns a human-readable
// label for the uploaded file. An absent answer field yields an empty label
// with no error; classification is best-effort.
func (c *Client) ClassifyDocument(ctx context.Context, filename string, data []byte) (string, error) {
	return c.analyze(ctx, "/analyze_image_type", filename, data)
}

// ExtractDocument runs the second analysis stage and returns the extracted
// finding, or an empty string when the service has nothing to report.
func (c *Client) ExtractDocument(ctx context.Context, filename string, data []byte) (string, error) {
	return c.analyze(ctx, "/analyze_image", filename, data)
}

func (c *Client) analyze(ctx context.Context, path, filename string, data []byte) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("assist: api key missing")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("images", filename)
	if err != nil {
		return "", fmt.Errorf("assist: multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("assist: multipart write: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("assist: multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist: analyze request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("assist: analyze status=%d body=%s", resp.StatusCode, string(b))
	}
	var ar answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("assist: analyze decode: %w", err)
	}
	return strings.TrimSpace(ar.Answer), nil
}

// Summarize sends the composite transcript-plus-findings block as raw text
// and returns the generated summary.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("assist: api key missing")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate_summary", strings.NewReader(text))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist: summary request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("assist: summary status=%d body=%s", resp.StatusCode, string(b))
	}
	var ar answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("assist: summary decode: %w", err)
	}
	answer := strings.TrimSpace(ar.Answer)
	if answer == "" {
		return "", fmt.Errorf("assist: summary empty answer")
	}
	return answer, nil
}
