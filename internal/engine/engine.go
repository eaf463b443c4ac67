package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/knowbase/internal/cache"
	"github.com/mohammad-safakhou/knowbase/internal/chunker"
	"github.com/mohammad-safakhou/knowbase/internal/extract"
	"github.com/mohammad-safakhou/knowbase/internal/store"
	"github.com/mohammad-safakhou/knowbase/internal/tts"
	"github.com/mohammad-safakhou/knowbase/internal/vectorstore/qdrant"
	"github.com/mohammad-safakhou/knowbase/provider"
	"github.com/mohammad-safakhou/knowbase/tools/web_search"
	"github.com/mohammad-safakhou/knowbase/tools/web_search/models"
)

// VectorIndex is the slice of the Qdrant client the engine needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, points []qdrant.Point) error
	Query(ctx context.Context, collection string, vector []float32, topK int, filter qdrant.Filter) []qdrant.Result
	DeleteByContentID(ctx context.Context, collection, tenantID, contentID string) error
	DropCollection(ctx context.Context, collection string) error
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ContentStore is the slice of the Postgres store the engine needs.
type ContentStore interface {
	CreateContent(ctx context.Context, rec store.ContentRecord) (string, error)
	GetContent(ctx context.Context, tenantID, id string) (store.ContentRecord, error)
	GetContentBySource(ctx context.Context, tenantID, source string) (store.ContentRecord, bool, error)
	ListContent(ctx context.Context, tenantID string) ([]store.ContentRecord, error)
	CountContent(ctx context.Context, tenantID string) (int, error)
	DeleteContent(ctx context.Context, tenantID, id string) error
	ClearTenantContent(ctx context.Context, tenantID string) error
	AppendHistory(ctx context.Context, tenantID, question, answer string, limit int) (int64, error)
	GetHistory(ctx context.Context, tenantID string, id int64) (store.HistoryEntry, error)
	ListHistory(ctx context.Context, tenantID string, limit int) ([]store.HistoryEntry, error)
	ClearHistory(ctx context.Context, tenantID string) error
}

// URLSource fetches and extracts readable text from a web page.
type URLSource interface {
	Extract(ctx context.Context, rawURL string) (extract.Document, error)
}

// Options carries the tunables the engine enforces.
type Options struct {
	ContentLimit     int
	HistoryLimit     int
	TopK             int
	SharedCollection string
	ContextURLs      int
	ChunkSize        int
	ChunkOverlap     int
}

// Deps wires the engine's collaborators. LLM, Embed, Vectors and Contents
// are required; the rest are optional and degrade gracefully when nil.
type Deps struct {
	LLM      provider.Provider
	Embed    Embedder
	Vectors  VectorIndex
	Contents ContentStore
	Cache    *cache.Cache
	Speech   tts.Synthesizer
	Searcher web_search.WebSearcher
	Web      URLSource

	// ValidateURL may be overridden in tests; nil means the default
	// validator with its live HEAD probe.
	ValidateURL func(ctx context.Context, raw string) (string, error)
	// ExtractPDF may be overridden in tests; nil means the real parser.
	ExtractPDF func(data []byte) (extract.Document, error)
}

type Engine struct {
	opts     Options
	llm      provider.Provider
	embed    Embedder
	vectors  VectorIndex
	contents ContentStore
	cache    *cache.Cache
	speech   tts.Synthesizer
	searcher web_search.WebSearcher
	web      URLSource

	validateURL func(ctx context.Context, raw string) (string, error)
	extractPDF  func(data []byte) (extract.Document, error)

	splitter *chunker.Splitter
	analyzer *analyzer
	logger   *log.Logger
}

func New(opts Options, deps Deps) (*Engine, error) {
	if deps.LLM == nil || deps.Embed == nil || deps.Vectors == nil || deps.Contents == nil {
		return nil, errors.New("engine: llm, embedder, vector index and content store are required")
	}
	if opts.ContentLimit <= 0 {
		opts.ContentLimit = 10
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 5
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.SharedCollection == "" {
		opts.SharedCollection = "site_information"
	}
	e := &Engine{
		opts:        opts,
		llm:         deps.LLM,
		embed:       deps.Embed,
		vectors:     deps.Vectors,
		contents:    deps.Contents,
		cache:       deps.Cache,
		speech:      deps.Speech,
		searcher:    deps.Searcher,
		web:         deps.Web,
		validateURL: deps.ValidateURL,
		extractPDF:  deps.ExtractPDF,
		splitter:    chunker.New(opts.ChunkSize, opts.ChunkOverlap),
		analyzer:    newAnalyzer(deps.LLM),
		logger:      log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
	}
	if e.validateURL == nil {
		e.validateURL = func(ctx context.Context, raw string) (string, error) {
			return extract.ValidateURL(ctx, nil, raw)
		}
	}
	if e.extractPDF == nil {
		e.extractPDF = extract.PDF
	}
	return e, nil
}

// QuotaMessage is the user-facing text for a full quota.
func (e *Engine) QuotaMessage() string {
	return fmt.Sprintf("Your quota is full. Maximum %d content items allowed.", e.opts.ContentLimit)
}

// CollectionFor maps a tenant to its private vector collection.
func CollectionFor(tenantID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, tenantID)
	return "tenant_" + sanitized
}

// admit runs the dedup and quota gates. It must pass before any
// extraction or embedding work is spent on a source.
func (e *Engine) admit(ctx context.Context, tenantID, source string) error {
	if _, exists, err := e.contents.GetContentBySource(ctx, tenantID, source); err != nil {
		return err
	} else if exists {
		return ErrDuplicateContent
	}
	n, err := e.contents.CountContent(ctx, tenantID)
	if err != nil {
		return err
	}
	if n >= e.opts.ContentLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// IngestPDF admits, extracts, chunks, embeds and records one uploaded PDF.
// The whole pipeline is all-or-nothing: on any failure no vectors and no
// content record survive.
func (e *Engine) IngestPDF(ctx context.Context, tenantID, filename string, data []byte) (store.ContentRecord, error) {
	if err := e.admit(ctx, tenantID, filename); err != nil {
		return store.ContentRecord{}, err
	}
	doc, err := e.extractPDF(data)
	if err != nil {
		return store.ContentRecord{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return e.ingest(ctx, tenantID, filename, store.SourceTypePDF, doc)
}

// IngestURL validates and normalizes the URL, then runs the same pipeline
// as PDFs. Dedup is on the normalized URL.
func (e *Engine) IngestURL(ctx context.Context, tenantID, rawURL string) (store.ContentRecord, error) {
	normalized, err := e.validateURL(ctx, rawURL)
	if err != nil {
		return store.ContentRecord{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if err := e.admit(ctx, tenantID, normalized); err != nil {
		return store.ContentRecord{}, err
	}
	if e.web == nil {
		return store.ContentRecord{}, fmt.Errorf("%w: no web extractor configured", ErrExtractionFailed)
	}
	doc, err := e.web.Extract(ctx, normalized)
	if err != nil {
		return store.ContentRecord{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return e.ingest(ctx, tenantID, normalized, store.SourceTypeURL, doc)
}

func (e *Engine) ingest(ctx context.Context, tenantID, source, sourceType string, doc extract.Document) (store.ContentRecord, error) {
	chunks := e.splitter.Split(doc.Text)
	if len(chunks) == 0 {
		return store.ContentRecord{}, fmt.Errorf("%w: no text to index", ErrExtractionFailed)
	}
	analysis := e.analyzer.Analyze(ctx, doc.Text)

	vectors, err := e.embed.Embed(ctx, chunks)
	if err != nil {
		return store.ContentRecord{}, err
	}

	collection := CollectionFor(tenantID)
	if err := e.vectors.EnsureCollection(ctx, collection); err != nil {
		return store.ContentRecord{}, err
	}

	contentID := uuid.NewString()
	points := make([]qdrant.Point, len(chunks))
	for i := range chunks {
		points[i] = qdrant.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: qdrant.Payload{
				TenantID:   tenantID,
				ContentID:  contentID,
				ChunkIndex: i,
				Text:       chunks[i],
			},
		}
	}
	if err := e.vectors.Upsert(ctx, collection, points); err != nil {
		return store.ContentRecord{}, err
	}

	rec := store.ContentRecord{
		ID:                 contentID,
		TenantID:           tenantID,
		Source:             source,
		SourceType:         sourceType,
		Title:              doc.Title,
		Author:             doc.Author,
		Summary:            analysis.Summary,
		Keywords:           analysis.Keywords,
		Topics:             analysis.Topics,
		SuggestedQuestions: analysis.SuggestedQuestions,
		NumChunks:          len(chunks),
		ByteSize:           doc.ByteSize,
		NumPages:           doc.NumPages,
	}
	if _, err := e.contents.CreateContent(ctx, rec); err != nil {
		// Roll the vectors back so a failed record never leaves
		// orphaned points behind.
		if derr := e.vectors.DeleteByContentID(ctx, collection, tenantID, contentID); derr != nil {
			e.logger.Printf("rollback of %s vectors failed: %v", contentID, derr)
		}
		return store.ContentRecord{}, err
	}
	e.logger.Printf("ingested %s for %s: %d chunks", source, tenantID, len(chunks))
	return rec, nil
}

// Answer is the result of one question. QueryID refers to the history
// entry recorded for the exchange and keys the audio endpoint.
type Answer struct {
	Answer      string          `json:"answer"`
	QueryID     int64           `json:"query_id"`
	Sources     []string        `json:"sources,omitempty"`
	ContextURLs []models.Result `json:"context_urls,omitempty"`
}

const answerPrompt = `You are a helpful assistant. Answer the question using only the context below.
If the context does not contain the answer, reply exactly: %s

%s%sQuestion: %s
Answer:`

// Ask retrieves context from the shared collection and the tenant's own
// collection, asks the model, and appends the exchange to history.
// scopeContentIDs, when non-empty, narrows the tenant-side retrieval to
// those content items. Ask degrades rather than fails: retrieval or
// generation trouble yields the fallback answer, never an error.
func (e *Engine) Ask(ctx context.Context, tenantID, question string, scopeContentIDs []string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, errors.New("empty question")
	}

	answer := FallbackAnswer
	var sources []string

	vecs, err := e.embed.Embed(ctx, []string{question})
	if err != nil || len(vecs) != 1 {
		e.logger.Printf("question embedding failed for %s: %v", tenantID, err)
	} else {
		shared := e.vectors.Query(ctx, e.opts.SharedCollection, vecs[0], e.opts.TopK, qdrant.Filter{})
		own := e.vectors.Query(ctx, CollectionFor(tenantID), vecs[0], e.opts.TopK,
			qdrant.Filter{TenantID: tenantID, ContentIDs: scopeContentIDs})
		hits := append(shared, own...)
		if len(hits) > 0 {
			generated, err := e.generate(ctx, tenantID, question, hits)
			if err != nil {
				e.logger.Printf("generation failed for %s: %v", tenantID, err)
			} else if generated != "" {
				answer = generated
			}
			sources = contentIDs(hits)
		}
	}

	queryID, err := e.contents.AppendHistory(ctx, tenantID, question, answer, e.opts.HistoryLimit)
	if err != nil {
		e.logger.Printf("history append failed for %s: %v", tenantID, err)
	}

	return Answer{
		Answer:      answer,
		QueryID:     queryID,
		Sources:     sources,
		ContextURLs: e.discoverURLs(ctx, question),
	}, nil
}

func (e *Engine) generate(ctx context.Context, tenantID, question string, hits []qdrant.Result) (string, error) {
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, h := range hits {
		b.WriteString(h.Payload.Text)
		b.WriteString("\n---\n")
	}
	b.WriteString("\n")

	history := ""
	if entries, err := e.contents.ListHistory(ctx, tenantID, e.opts.HistoryLimit); err == nil && len(entries) > 0 {
		var h strings.Builder
		h.WriteString("Previous conversation:\n")
		// entries come newest first; replay them oldest first.
		for i := len(entries) - 1; i >= 0; i-- {
			fmt.Fprintf(&h, "Q: %s\nA: %s\n", entries[i].Question, entries[i].Answer)
		}
		h.WriteString("\n")
		history = h.String()
	}

	out, err := e.llm.Generate(ctx, fmt.Sprintf(answerPrompt, FallbackAnswer, b.String(), history, question))
	return strings.TrimSpace(out), err
}

func (e *Engine) discoverURLs(ctx context.Context, question string) []models.Result {
	if e.searcher == nil || e.opts.ContextURLs <= 0 {
		return nil
	}
	results, err := e.searcher.Discover(ctx, question, e.opts.ContextURLs)
	if err != nil {
		e.logger.Printf("context url discovery failed: %v", err)
		return nil
	}
	return results
}

func contentIDs(hits []qdrant.Result) []string {
	seen := make(map[string]bool, len(hits))
	var out []string
	for _, h := range hits {
		id := h.Payload.ContentID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Audio returns synthesized speech for a recorded answer (by queryID) or
// for literal text, serving repeats from the TTL cache. The cache is
// best-effort; synthesis errors are real errors.
func (e *Engine) Audio(ctx context.Context, tenantID string, queryID int64, text string) ([]byte, error) {
	if e.speech == nil {
		return nil, errors.New("speech synthesis not configured")
	}
	if text == "" {
		entry, err := e.contents.GetHistory(ctx, tenantID, queryID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		text = entry.Answer
	}
	key := cache.AudioKey(tenantID, text)
	if data, ok := e.cache.Get(ctx, key); ok {
		return data, nil
	}
	data, err := e.speech.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, data)
	return data, nil
}

// DeleteContent removes one content item, vectors first so a partial
// failure never leaves unreachable vectors behind a still-listed record.
func (e *Engine) DeleteContent(ctx context.Context, tenantID, contentID string) error {
	if _, err := e.contents.GetContent(ctx, tenantID, contentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := e.vectors.DeleteByContentID(ctx, CollectionFor(tenantID), tenantID, contentID); err != nil {
		return err
	}
	if err := e.contents.DeleteContent(ctx, tenantID, contentID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// WipeTenant drops everything the tenant owns: vectors, records, history.
func (e *Engine) WipeTenant(ctx context.Context, tenantID string) error {
	return errors.Join(
		e.vectors.DropCollection(ctx, CollectionFor(tenantID)),
		e.contents.ClearTenantContent(ctx, tenantID),
		e.contents.ClearHistory(ctx, tenantID),
	)
}

// Status reports quota usage and the tenant's content items.
type Status struct {
	Used  int                   `json:"used"`
	Limit int                   `json:"limit"`
	Items []store.ContentRecord `json:"items"`
}

func (e *Engine) Status(ctx context.Context, tenantID string) (Status, error) {
	items, err := e.contents.ListContent(ctx, tenantID)
	if err != nil {
		return Status{}, err
	}
	return Status{Used: len(items), Limit: e.opts.ContentLimit, Items: items}, nil
}

// History returns the tenant's recent exchanges, newest first.
func (e *Engine) History(ctx context.Context, tenantID string) ([]store.HistoryEntry, error) {
	return e.contents.ListHistory(ctx, tenantID, e.opts.HistoryLimit)
}

func (e *Engine) ClearHistory(ctx context.Context, tenantID string) error {
	return e.contents.ClearHistory(ctx, tenantID)
}
