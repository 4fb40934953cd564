package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/uber-go/tally/v4"
)

var _ gateway.Catalog = (*Gateway)(nil)

// Gateway defines an HTTP gateway for the remote movie catalog.
type Gateway struct {
	baseURL string
	client  *http.Client
	scope   tally.Scope
}

// New creates a new HTTP gateway for the catalog served under baseURL.
func New(baseURL string, client *http.Client, scope tally.Scope) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Gateway{baseURL: strings.TrimRight(baseURL, "/"), client: client, scope: scope}
}

// List returns the full remote catalog. Numeric ids are coerced while decoding.
func (g *Gateway) List(ctx context.Context) ([]*model.Movie, error) {
	var res []*model.Movie
	if err := g.do(ctx, "list", http.MethodGet, "/movies/", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Create creates a movie and returns the record the catalog stored.
func (g *Gateway) Create(ctx context.Context, fields model.Fields) (*model.Movie, error) {
	var res model.Movie
	if err := g.do(ctx, "create", http.MethodPost, "/movies/", fields, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Update replaces a movie and returns the stored record.
func (g *Gateway) Update(ctx context.Context, id model.ID, m *model.Movie) (*model.Movie, error) {
	body := m.Clone()
	body.ID = id
	var res model.Movie
	if err := g.do(ctx, "update", http.MethodPut, moviePath(id), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Delete deletes a movie.
func (g *Gateway) Delete(ctx context.Context, id model.ID) error {
	return g.do(ctx, "delete", http.MethodDelete, moviePath(id), nil, nil)
}

// AddRating submits a rating and returns the movie with its recomputed average.
func (g *Gateway) AddRating(ctx context.Context, id model.ID, value model.RatingValue) (*model.Movie, error) {
	req := struct {
		Rating model.RatingValue `json:"rating"`
	}{value}
	var res model.Movie
	if err := g.do(ctx, "add_rating", http.MethodPost, moviePath(id)+"add_rating/", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func moviePath(id model.ID) string {
	return "/movies/" + url.PathEscape(id.String()) + "/"
}

func (g *Gateway) do(ctx context.Context, op, method, path string, in, out any) error {
	scope := g.scope.Tagged(map[string]string{"op": op})
	scope.Counter("requests").Inc(1)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		scope.Counter("errors").Inc(1)
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		scope.Counter("errors").Inc(1)
		return remoteError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		scope.Counter("errors").Inc(1)
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func remoteError(resp *http.Response) error {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(b, &payload)

	msg := payload.Error
	if msg == "" {
		msg = payload.Detail
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &gateway.RemoteError{StatusCode: resp.StatusCode, Message: msg}
}
