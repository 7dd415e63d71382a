package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/tupa/internal/apperr"
)

// RESTOptions configures a RESTStore
type RESTOptions struct {
	BaseURL string
	APIKey  string
	// JWTSecret, when set, signs a short-lived bearer token whose subject is Subject()
	JWTSecret         string
	Subject           func() string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// RESTStore talks to a hosted table API using PostgREST-style filters:
// GET /{table}?field=eq.value&order=col.desc&limit=N
type RESTStore struct {
	baseURL string
	opts    RESTOptions
	client  *http.Client
	limiter *rate.Limiter
}

// NewRESTStore creates a rate-limited REST store client
func NewRESTStore(opts RESTOptions) *RESTStore {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &RESTStore{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func (s *RESTStore) Table(name string) Table {
	return &restTable{store: s, name: name}
}

func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// bearer returns the Authorization token for the current subject
func (s *RESTStore) bearer() (string, error) {
	if s.opts.JWTSecret == "" {
		return s.opts.APIKey, nil
	}
	sub := ""
	if s.opts.Subject != nil {
		sub = s.opts.Subject()
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.opts.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *RESTStore) do(ctx context.Context, method, table string, params url.Values, body []byte) ([]Row, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	requestURL := fmt.Sprintf("%s/%s", s.baseURL, url.PathEscape(table))
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := s.bearer()
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.opts.APIKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, table)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: %s", apperr.ErrPermission, table, strings.TrimSpace(string(respBody)))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return rows, nil
}

type restTable struct {
	store *RESTStore
	name  string
}

// EncodeQuery renders q as PostgREST query parameters
func EncodeQuery(q Query) url.Values {
	params := url.Values{}
	params.Set("select", "*")
	for _, f := range q.Filters {
		params.Add(f.Field, "eq."+f.Value)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func (t *restTable) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := validQuery(q); err != nil {
		return nil, err
	}
	return t.store.do(ctx, http.MethodGet, t.name, EncodeQuery(q), nil)
}

func (t *restTable) Insert(ctx context.Context, row Row) (Row, error) {
	prepared, _, err := prepareInsert(row, time.Now())
	if err != nil {
		return nil, err
	}
	rows, err := t.store.do(ctx, http.MethodPost, t.name, nil, prepared)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return prepared, nil
	}
	return rows[0], nil
}

func (t *restTable) Update(ctx context.Context, id string, patch Row) (Row, error) {
	patch, err := stripID(patch)
	if err != nil {
		return nil, err
	}
	rows, err := t.store.do(ctx, http.MethodPatch, t.name, url.Values{"id": {"eq." + id}}, patch)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, t.name, id)
	}
	return rows[0], nil
}

func (t *restTable) Delete(ctx context.Context, id string) error {
	rows, err := t.store.do(ctx, http.MethodDelete, t.name, url.Values{"id": {"eq." + id}}, nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, t.name, id)
	}
	return nil
}
