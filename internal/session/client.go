package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the server has no analysis for an ID
var ErrNotFound = errors.New("analysis not found")

// APIError is a non-2xx reply from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Analysis is a stored bill image with its report
type Analysis struct {
	ImageData string `json:"imageData"`
	Analysis  string `json:"analysis"`
}

// Analyzer submits an image for analysis and returns the new record ID
type Analyzer interface {
	Analyze(ctx context.Context, imageData string) (string, error)
}

// Fetcher loads a stored analysis
type Fetcher interface {
	Get(ctx context.Context, id string) (*Analysis, error)
}

// Asker answers one question about a stored analysis
type Asker interface {
	Ask(ctx context.Context, id, question string) (string, error)
}

// Client talks to the bill explainer HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. A nil httpClient gets a client with a timeout
// long enough for an engine round trip.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Analyze runs the server-side submission and returns the stored record's ID
func (c *Client) Analyze(ctx context.Context, imageData string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/analyze", map[string]string{"imageData": imageData}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("invalid response from server: missing id")
	}
	return resp.ID, nil
}

// Save stores an analysis produced elsewhere
func (c *Client) Save(ctx context.Context, imageData, analysis string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	body := Analysis{ImageData: imageData, Analysis: analysis}
	if err := c.do(ctx, http.MethodPost, "/api/analysis", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("invalid response from server: missing id")
	}
	return resp.ID, nil
}

// Get fetches a stored analysis
func (c *Client) Get(ctx context.Context, id string) (*Analysis, error) {
	var resp Analysis
	path := "/api/analysis?id=" + url.QueryEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask sends one chat question. Only the question travels; the server
// supplies the stored image and analysis.
func (c *Client) Ask(ctx context.Context, id, question string) (string, error) {
	var resp struct {
		Answer string `json:"answer"`
	}
	body := map[string]string{"id": id, "question": question}
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &resp); err != nil {
		return "", err
	}
	return resp.Answer, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
