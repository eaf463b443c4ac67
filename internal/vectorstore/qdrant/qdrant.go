package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Store is a minimal REST client to Qdrant. Collections are created per
// tenant (plus one shared collection), all with cosine distance.
type Store struct {
	url       string
	apiKey    string
	dimension int
	batchSize int
	client    *http.Client
	logger    *log.Logger
}

type Config struct {
	URL       string
	APIKey    string
	Dimension int
	// BatchSize caps the number of points per upsert request. Defaults to
	// the embedding batch size so writes mirror embedding calls.
	BatchSize int
	Timeout   time.Duration
}

// Payload is what each point carries besides its vector.
type Payload struct {
	TenantID   string `json:"tenant_id"`
	ContentID  string `json:"content_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Result is one scored hit from a similarity query.
type Result struct {
	Score   float64
	Payload Payload
}

// Filter narrows a query to one tenant and, optionally, a set of content items.
type Filter struct {
	TenantID   string
	ContentIDs []string
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("qdrant dimension must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	return &Store{
		url:       strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		batchSize: batch,
		client:    &http.Client{Timeout: timeout},
		logger:    log.New(log.Writer(), "[QDRANT] ", log.LstdFlags),
	}, nil
}

// EnsureCollection creates the collection if it does not exist yet.
// Calling it again for an existing collection is a no-op.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", s.url, collection), nil)
	if err != nil {
		return err
	}
	s.auth(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	err = s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, collection), body)
	if err != nil && strings.Contains(err.Error(), "409") {
		// Lost a creation race; the collection exists now.
		return nil
	}
	return err
}

// Upsert writes points in batches of batchSize with wait=true so a
// following query sees them. Failures are hard errors: callers roll back
// rather than keep partial state.
func (s *Store) Upsert(ctx context.Context, collection string, points []Point) error {
	for start := 0; start < len(points); start += s.batchSize {
		end := start + s.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		raw := make([]map[string]any, len(batch))
		for i, p := range batch {
			raw[i] = map[string]any{
				"id":      p.ID,
				"vector":  p.Vector,
				"payload": p.Payload,
			}
		}
		body := map[string]any{"points": raw}
		if err := s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, collection), body); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Query returns up to topK scored hits. A failing or missing collection
// degrades to an empty result set instead of failing the caller: retrieval
// with no context is still answerable, just poorly.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) []Result {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, collection), req, &resp); err != nil {
		s.logger.Printf("search on %s failed, returning no hits: %v", collection, err)
		return nil
	}
	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, Result{Score: r.Score, Payload: r.Payload})
	}
	return results
}

// DeleteByContentID removes every point of one content item.
func (s *Store) DeleteByContentID(ctx context.Context, collection, tenantID, contentID string) error {
	body := map[string]any{
		"filter": buildFilter(Filter{TenantID: tenantID, ContentIDs: []string{contentID}}),
	}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, collection), body, nil)
}

// DropCollection removes the whole collection. Missing collections are fine.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/collections/%s", s.url, collection), nil)
	if err != nil {
		return err
	}
	s.auth(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant DELETE collection %s failed: %s", collection, resp.Status)
	}
	return nil
}

// Count returns the exact number of points a tenant has in the collection.
func (s *Store) Count(ctx context.Context, collection, tenantID string) (int, error) {
	body := map[string]any{"exact": true}
	if f := buildFilter(Filter{TenantID: tenantID}); f != nil {
		body["filter"] = f
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/count", s.url, collection), body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func buildFilter(f Filter) map[string]any {
	var must []map[string]any
	if f.TenantID != "" {
		must = append(must, map[string]any{
			"key":   "tenant_id",
			"match": map[string]any{"value": f.TenantID},
		})
	}
	if len(f.ContentIDs) > 0 {
		must = append(must, map[string]any{
			"key":   "content_id",
			"match": map[string]any{"any": f.ContentIDs},
		})
	}
	if must == nil {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Store) auth(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
}

func (s *Store) putJSON(ctx context.Context, url string, body any) error {
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.auth(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (s *Store) postJSON(ctx context.Context, url string, body any, out any) error {
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.auth(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
