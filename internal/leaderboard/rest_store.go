package leaderboard

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
)

// DefaultTable is the leaderboard table name used by the REST backend.
const DefaultTable = "leaderboard"

// RESTStore talks to a PostgREST-compatible endpoint (for example a hosted Postgres
// exposing /rest/v1). Upserts merge on player_id.
type RESTStore struct {
	baseURL string
	table   string
	apiKey  string
	client  *http.Client
}

// RESTOption customises the REST store.
type RESTOption func(*RESTStore)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) RESTOption {
	return func(s *RESTStore) {
		if client != nil {
			s.client = client
		}
	}
}

// NewRESTStore validates the endpoint and returns a store bound to table.
func NewRESTStore(baseURL, table, apiKey string, opts ...RESTOption) (*RESTStore, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("leaderboard REST url must be provided")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("leaderboard REST url: %w", err)
	}
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	store := &RESTStore{
		baseURL: trimmed,
		table:   strings.TrimSpace(table),
		apiKey:  strings.TrimSpace(apiKey),
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// UpsertLeaderboard implements Store.
func (s *RESTStore) UpsertLeaderboard(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	endpoint := s.tableURL(url.Values{"on_conflict": []string{"player_id"}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	return s.do(req, "upsert leaderboard")
}

// DeletePlayer implements Store.
func (s *RESTStore) DeletePlayer(ctx context.Context, playerID string) error {
	if playerID == "" {
		return nil
	}
	endpoint := s.tableURL(url.Values{"player_id": []string{"eq." + playerID}})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return s.do(req, "delete player")
}

func (s *RESTStore) tableURL(query url.Values) string {
	return fmt.Sprintf("%s/rest/v1/%s?%s", s.baseURL, url.PathEscape(s.table), query.Encode())
}

func (s *RESTStore) do(req *http.Request, op string) error {
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
