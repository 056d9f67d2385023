// internal/search/serper.go
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultEndpoint = "https://google.serper.dev/search"

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"uri"`
	Snippet string `json:"snippet,omitempty"`
}

// Serper queries the serper.dev Google search API.
type Serper struct {
	apiKey   string
	endpoint string
	results  int
	http     *http.Client
}

func NewSerper(apiKey, endpoint string, results int) *Serper {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if results <= 0 {
		results = 5
	}
	return &Serper{
		apiKey:   apiKey,
		endpoint: endpoint,
		results:  results,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string) ([]Result, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": s.results})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serper status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var raw serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("serper decode: %w", err)
	}

	out := make([]Result, 0, len(raw.Organic))
	for i, it := range raw.Organic {
		if i >= s.results {
			break
		}
		out = append(out, Result{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}
	return out, nil
}
