package analysis

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

// SupabaseStore implements the Store interface against a Supabase project's
// REST endpoint for the analyses table
type SupabaseStore struct {
	baseURL string
	apiKey  string
	table   string
	client  *http.Client
}

// NewSupabaseStore creates a new SupabaseStore instance
func NewSupabaseStore(projectURL, apiKey string) (*SupabaseStore, error) {
	if projectURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase key is required")
	}
	if _, err := url.ParseRequestURI(projectURL); err != nil {
		return nil, fmt.Errorf("parsing supabase url: %w", err)
	}

	return &SupabaseStore{
		baseURL: strings.TrimSuffix(projectURL, "/"),
		apiKey:  apiKey,
		table:   bucketName,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// supabaseRow mirrors a row of the analyses table
type supabaseRow struct {
	ID           rowID     `json:"id"`
	ImageData    string    `json:"image_data"`
	AnalysisText string    `json:"analysis_text"`
	CreatedAt    time.Time `json:"created_at"`
}

// rowID accepts both text and numeric primary keys
type rowID string

func (r *rowID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = rowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	*r = rowID(n.String())
	return nil
}

// pgInvalidTextRepresentation is the Postgres code for a value that cannot be
// cast to the column type, e.g. a non-numeric id against a bigint key
const pgInvalidTextRepresentation = "22P02"

// postgrestError is a non-2xx reply from the REST endpoint
type postgrestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *postgrestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error (status %d): %s", e.StatusCode, e.Message)
}

// supabaseInsert leaves id and created_at to column defaults
type supabaseInsert struct {
	ImageData    string `json:"image_data"`
	AnalysisText string `json:"analysis_text"`
}

// Create inserts a row and returns the ID assigned by the database
func (s *SupabaseStore) Create(ctx context.Context, imageData, analysisText string) (string, error) {
	body, err := json.Marshal([]supabaseInsert{{ImageData: imageData, AnalysisText: analysisText}})
	if err != nil {
		return "", fmt.Errorf("%w: marshaling row: %w", ErrStoreWrite, err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, s.tableURL(nil), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	req.Header.Set("Prefer", "return=representation")

	rows, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	if len(rows) == 0 || rows[0].ID == "" {
		return "", fmt.Errorf("%w: no record returned", ErrStoreWrite)
	}
	return string(rows[0].ID), nil
}

// Get retrieves a record by ID
func (s *SupabaseStore) Get(ctx context.Context, id string) (*Record, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("id", "eq."+id)

	req, err := s.newRequest(ctx, http.MethodGet, s.tableURL(query), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}

	rows, err := s.do(req)
	var apiErr *postgrestError
	if errors.As(err, &apiErr) && apiErr.Code == pgInvalidTextRepresentation {
		// the id cannot be cast to the key column's type, so no row can match
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	row := rows[0]
	return &Record{
		ID:           string(row.ID),
		ImageData:    row.ImageData,
		AnalysisText: row.AnalysisText,
		CreatedAt:    row.CreatedAt,
	}, nil
}

// Close is a no-op for the HTTP client
func (s *SupabaseStore) Close() error {
	return nil
}

func (s *SupabaseStore) tableURL(query url.Values) string {
	u := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, s.table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (s *SupabaseStore) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (s *SupabaseStore) do(req *http.Request) ([]supabaseRow, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling supabase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &postgrestError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		// PostgREST bodies carry the Postgres error code; other bodies stay raw
		var decoded struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &decoded) == nil {
			apiErr.Code = decoded.Code
			if decoded.Message != "" {
				apiErr.Message = decoded.Message
			}
		}
		return nil, apiErr
	}

	var rows []supabaseRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return rows, nil
}
