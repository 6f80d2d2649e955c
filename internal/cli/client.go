package cli

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

	"github.com/hyperjump/vecindex/internal/models"
)

// Client talks to a running vecindex server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

var kinds = map[string]error{
	"dimension_mismatch":  models.ErrDimensionMismatch,
	"invalid_argument":    models.ErrInvalidArgument,
	"not_found":           models.ErrNotFound,
	"persistence_failure": models.ErrPersistence,
	"corrupt_snapshot":    models.ErrCorruptSnapshot,
}

// Search runs a query on the server.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the server's index statistics.
func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	var out models.Stats
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out)
	return out, err
}

// Documents lists the documents indexed on the server.
func (c *Client) Documents(ctx context.Context) ([]models.DocumentInfo, error) {
	var out struct {
		Documents []models.DocumentInfo `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents", nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// DeleteDocument removes a document and returns how many vectors it held.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(documentID), nil, &out)
	return out.Removed, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response into an error wrapping the matching kind.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(b, &e) != nil || e.Error == "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if kind, ok := kinds[e.Kind]; ok {
		return fmt.Errorf("server returned %d: %w", resp.StatusCode, &remoteError{kind: kind, msg: e.Error})
	}
	return errors.New(e.Error)
}

type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }
