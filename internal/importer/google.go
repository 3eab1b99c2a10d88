package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Endpoints are the API base URLs. Tests point them at a local server.
type Endpoints struct {
	Calendar string
	Tasks    string
	People   string
}

var DefaultEndpoints = Endpoints{
	Calendar: "https://www.googleapis.com/calendar/v3",
	Tasks:    "https://tasks.googleapis.com/tasks/v1",
	People:   "https://people.googleapis.com/v1",
}

const maxResponseSize = 10 << 20

// Google issues authenticated reads against the Google APIs.
type Google struct {
	client    *http.Client
	tokens    *Tokens
	endpoints Endpoints
	logger    *slog.Logger
}

// GoogleOption configures a Google client.
type GoogleOption func(*Google)

func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *Google) { g.client = c }
}

func WithEndpoints(e Endpoints) GoogleOption {
	return func(g *Google) { g.endpoints = e }
}

func WithGoogleLogger(l *slog.Logger) GoogleOption {
	return func(g *Google) { g.logger = l }
}

func NewGoogle(tokens *Tokens, opts ...GoogleOption) *Google {
	g := &Google{
		client:    &http.Client{Timeout: 15 * time.Second},
		tokens:    tokens,
		endpoints: DefaultEndpoints,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "google")
	return g
}

type apiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// getJSON fetches base+path?query and decodes the response into out. The
// token is checked locally before any request is made.
func (g *Google) getJSON(ctx context.Context, source, base, path string, query url.Values, out any) error {
	tok, err := g.tokens.Valid()
	if err != nil {
		return err
	}

	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &ImportError{Source: source, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return &ImportError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &ImportError{Source: source, Err: fmt.Errorf("read response: %w", err)}
	}
	g.logger.Debug("api call", "source", source, "path", path, "status", resp.StatusCode,
		"bytes", len(body), "took", time.Since(start))

	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != nil {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("request failed (%d)", apiErr.Error.Code)
		}
		return &ImportError{Source: source, Err: fmt.Errorf("%s", msg)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ImportError{Source: source, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ImportError{Source: source, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
