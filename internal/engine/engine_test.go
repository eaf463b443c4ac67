package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/knowbase/internal/extract"
	"github.com/mohammad-safakhou/knowbase/internal/store"
	"github.com/mohammad-safakhou/knowbase/internal/vectorstore/qdrant"
)

// fakes

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.response != "" {
		return f.response, nil
	}
	return `{"summary":"s","keywords":["k"],"topics":["t"],"suggested_questions":["q?"]}`, nil
}

func (f *fakeLLM) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("unused")
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeVectors struct {
	collections map[string]bool
	points      map[string][]qdrant.Point // by collection
	hits        map[string][]qdrant.Result
	deleted     []string // "collection/contentID"
	dropped     []string
	lastFilter  qdrant.Filter
	upsertErr   error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{
		collections: map[string]bool{},
		points:      map[string][]qdrant.Point{},
		hits:        map[string][]qdrant.Result{},
	}
}

func (f *fakeVectors) EnsureCollection(ctx context.Context, collection string) error {
	f.collections[collection] = true
	return nil
}

func (f *fakeVectors) Upsert(ctx context.Context, collection string, points []qdrant.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points[collection] = append(f.points[collection], points...)
	return nil
}

func (f *fakeVectors) Query(ctx context.Context, collection string, vector []float32, topK int, filter qdrant.Filter) []qdrant.Result {
	f.lastFilter = filter
	return f.hits[collection]
}

func (f *fakeVectors) DeleteByContentID(ctx context.Context, collection, tenantID, contentID string) error {
	f.deleted = append(f.deleted, collection+"/"+contentID)
	return nil
}

func (f *fakeVectors) DropCollection(ctx context.Context, collection string) error {
	f.dropped = append(f.dropped, collection)
	return nil
}

type fakeContents struct {
	records   map[string]store.ContentRecord // by id
	history   []store.HistoryEntry
	nextID    int64
	createErr error
}

func newFakeContents() *fakeContents {
	return &fakeContents{records: map[string]store.ContentRecord{}}
}

func (f *fakeContents) CreateContent(ctx context.Context, rec store.ContentRecord) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.records[rec.ID] = rec
	return rec.ID, nil
}

func (f *fakeContents) GetContent(ctx context.Context, tenantID, id string) (store.ContentRecord, error) {
	rec, ok := f.records[id]
	if !ok || rec.TenantID != tenantID {
		return store.ContentRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeContents) GetContentBySource(ctx context.Context, tenantID, source string) (store.ContentRecord, bool, error) {
	for _, rec := range f.records {
		if rec.TenantID == tenantID && rec.Source == source {
			return rec, true, nil
		}
	}
	return store.ContentRecord{}, false, nil
}

func (f *fakeContents) ListContent(ctx context.Context, tenantID string) ([]store.ContentRecord, error) {
	var out []store.ContentRecord
	for _, rec := range f.records {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeContents) CountContent(ctx context.Context, tenantID string) (int, error) {
	n := 0
	for _, rec := range f.records {
		if rec.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (f *fakeContents) DeleteContent(ctx context.Context, tenantID, id string) error {
	if _, ok := f.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeContents) ClearTenantContent(ctx context.Context, tenantID string) error {
	for id, rec := range f.records {
		if rec.TenantID == tenantID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeContents) AppendHistory(ctx context.Context, tenantID, question, answer string, limit int) (int64, error) {
	f.nextID++
	f.history = append(f.history, store.HistoryEntry{ID: f.nextID, TenantID: tenantID, Question: question, Answer: answer})
	if limit <= 0 {
		return f.nextID, nil
	}
	count := 0
	var kept []store.HistoryEntry
	for i := len(f.history) - 1; i >= 0; i-- {
		h := f.history[i]
		if h.TenantID == tenantID {
			if count >= limit {
				continue
			}
			count++
		}
		kept = append([]store.HistoryEntry{h}, kept...)
	}
	f.history = kept
	return f.nextID, nil
}

func (f *fakeContents) GetHistory(ctx context.Context, tenantID string, id int64) (store.HistoryEntry, error) {
	for _, h := range f.history {
		if h.TenantID == tenantID && h.ID == id {
			return h, nil
		}
	}
	return store.HistoryEntry{}, store.ErrNotFound
}

func (f *fakeContents) ListHistory(ctx context.Context, tenantID string, limit int) ([]store.HistoryEntry, error) {
	var out []store.HistoryEntry
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		if f.history[i].TenantID == tenantID {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}

func (f *fakeContents) ClearHistory(ctx context.Context, tenantID string) error {
	var kept []store.HistoryEntry
	for _, h := range f.history {
		if h.TenantID != tenantID {
			kept = append(kept, h)
		}
	}
	f.history = kept
	return nil
}

type fakeWeb struct {
	doc extract.Document
	err error
}

func (f *fakeWeb) Extract(ctx context.Context, rawURL string) (extract.Document, error) {
	return f.doc, f.err
}

type fakeSpeech struct{ calls int }

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.calls++
	return []byte("audio:" + text), nil
}

func pdfStub(text string) func([]byte) (extract.Document, error) {
	return func(data []byte) (extract.Document, error) {
		if text == "" {
			return extract.Document{}, extract.ErrNoContent
		}
		return extract.Document{Text: text, Title: "Stub", ByteSize: int64(len(data)), NumPages: 1}, nil
	}
}

func passthroughURL(ctx context.Context, raw string) (string, error) { return raw, nil }

func newTestEngine(t *testing.T, opts Options, deps Deps) (*Engine, *fakeVectors, *fakeContents) {
	t.Helper()
	vectors := newFakeVectors()
	contents := newFakeContents()
	if deps.LLM == nil {
		deps.LLM = &fakeLLM{}
	}
	if deps.Embed == nil {
		deps.Embed = &fakeEmbedder{}
	}
	deps.Vectors = vectors
	deps.Contents = contents
	if deps.ExtractPDF == nil {
		deps.ExtractPDF = pdfStub("Some document text that will be chunked and indexed.")
	}
	if deps.ValidateURL == nil {
		deps.ValidateURL = passthroughURL
	}
	e, err := New(opts, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, vectors, contents
}

// tests

func TestIngestPDF(t *testing.T) {
	e, vectors, contents := newTestEngine(t, Options{}, Deps{})
	ctx := context.Background()

	rec, err := e.IngestPDF(ctx, "user-1", "report.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("IngestPDF: %v", err)
	}
	if rec.Source != "report.pdf" || rec.SourceType != store.SourceTypePDF {
		t.Errorf("record mismatch: %+v", rec)
	}
	if rec.Summary != "s" || len(rec.Keywords) != 1 {
		t.Errorf("analysis not applied: %+v", rec)
	}
	points := vectors.points[CollectionFor("user-1")]
	if len(points) != rec.NumChunks || len(points) == 0 {
		t.Fatalf("got %d points for %d chunks", len(points), rec.NumChunks)
	}
	for i, p := range points {
		if p.Payload.TenantID != "user-1" || p.Payload.ContentID != rec.ID || p.Payload.ChunkIndex != i {
			t.Errorf("point %d payload mismatch: %+v", i, p.Payload)
		}
	}
	if _, ok := contents.records[rec.ID]; !ok {
		t.Error("record not persisted")
	}
}

func TestIngestPDFDuplicateRejectedBeforeWork(t *testing.T) {
	embed := &fakeEmbedder{}
	e, _, contents := newTestEngine(t, Options{}, Deps{Embed: embed})
	ctx := context.Background()

	contents.records["existing"] = store.ContentRecord{ID: "existing", TenantID: "user-1", Source: "report.pdf"}

	extracted := false
	e.extractPDF = func(data []byte) (extract.Document, error) {
		extracted = true
		return extract.Document{Text: "x"}, nil
	}

	_, err := e.IngestPDF(ctx, "user-1", "report.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrDuplicateContent) {
		t.Fatalf("expected ErrDuplicateContent, got %v", err)
	}
	if extracted {
		t.Error("extraction ran for a duplicate")
	}
	if embed.calls != 0 {
		t.Error("embedding ran for a duplicate")
	}
}

func TestIngestQuotaEnforced(t *testing.T) {
	e, _, contents := newTestEngine(t, Options{ContentLimit: 2}, Deps{})
	ctx := context.Background()

	contents.records["a"] = store.ContentRecord{ID: "a", TenantID: "user-1", Source: "a.pdf"}
	contents.records["b"] = store.ContentRecord{ID: "b", TenantID: "user-1", Source: "b.pdf"}

	_, err := e.IngestPDF(ctx, "user-1", "c.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// Another tenant is unaffected.
	if _, err := e.IngestPDF(ctx, "user-2", "c.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("other tenant blocked: %v", err)
	}
}

func TestIngestRollsBackVectorsWhenRecordFails(t *testing.T) {
	e, vectors, contents := newTestEngine(t, Options{}, Deps{})
	contents.createErr = errors.New("db down")

	_, err := e.IngestPDF(context.Background(), "user-1", "report.pdf", []byte("%PDF"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(vectors.deleted) != 1 {
		t.Fatalf("expected one vector rollback, got %v", vectors.deleted)
	}
	if !strings.HasPrefix(vectors.deleted[0], CollectionFor("user-1")+"/") {
		t.Errorf("rolled back wrong collection: %v", vectors.deleted[0])
	}
}

func TestIngestURLNormalizesAndDedups(t *testing.T) {
	web := &fakeWeb{doc: extract.Document{Text: "Readable article text for indexing.", Title: "Article"}}
	deps := Deps{
		Web: web,
		ValidateURL: func(ctx context.Context, raw string) (string, error) {
			return "https://" + strings.TrimPrefix(raw, "https://"), nil
		},
	}
	e, _, _ := newTestEngine(t, Options{}, deps)
	ctx := context.Background()

	rec, err := e.IngestURL(ctx, "user-1", "example.com/a")
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	if rec.Source != "https://example.com/a" || rec.SourceType != store.SourceTypeURL {
		t.Errorf("record mismatch: %+v", rec)
	}

	_, err = e.IngestURL(ctx, "user-1", "https://example.com/a")
	if !errors.Is(err, ErrDuplicateContent) {
		t.Fatalf("expected ErrDuplicateContent after normalization, got %v", err)
	}
}

func TestAskMergesSharedAndTenantScopes(t *testing.T) {
	llm := &fakeLLM{response: "The answer is 42."}
	e, vectors, contents := newTestEngine(t, Options{SharedCollection: "site_information"}, Deps{LLM: llm})
	ctx := context.Background()

	vectors.hits["site_information"] = []qdrant.Result{
		{Score: 0.9, Payload: qdrant.Payload{ContentID: "shared-1", Text: "shared fact"}},
	}
	vectors.hits[CollectionFor("user-1")] = []qdrant.Result{
		{Score: 0.8, Payload: qdrant.Payload{TenantID: "user-1", ContentID: "own-1", Text: "private fact"}},
	}

	ans, err := e.Ask(ctx, "user-1", "what is the answer?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != "The answer is 42." {
		t.Errorf("answer = %q", ans.Answer)
	}
	if len(ans.Sources) != 2 || ans.Sources[0] != "shared-1" || ans.Sources[1] != "own-1" {
		t.Errorf("sources = %v", ans.Sources)
	}
	prompt := llm.prompts[len(llm.prompts)-1]
	if !strings.Contains(prompt, "shared fact") || !strings.Contains(prompt, "private fact") {
		t.Errorf("context missing from prompt: %q", prompt)
	}
	if len(contents.history) != 1 || contents.history[0].Answer != "The answer is 42." {
		t.Errorf("history not appended: %+v", contents.history)
	}
	if ans.QueryID != contents.history[0].ID {
		t.Errorf("query id %d does not match history entry %d", ans.QueryID, contents.history[0].ID)
	}
}

func TestAskScopesTenantQueryToContentIDs(t *testing.T) {
	e, vectors, _ := newTestEngine(t, Options{}, Deps{})

	if _, err := e.Ask(context.Background(), "user-1", "q?", []string{"c-7"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	// The tenant collection is queried last; its filter carries the scope.
	if vectors.lastFilter.TenantID != "user-1" || len(vectors.lastFilter.ContentIDs) != 1 || vectors.lastFilter.ContentIDs[0] != "c-7" {
		t.Errorf("filter = %+v", vectors.lastFilter)
	}
}

func TestAudioByQueryID(t *testing.T) {
	speech := &fakeSpeech{}
	e, _, _ := newTestEngine(t, Options{}, Deps{Speech: speech})
	ctx := context.Background()

	ans, err := e.Ask(ctx, "user-1", "q?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	data, err := e.Audio(ctx, "user-1", ans.QueryID, "")
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(data) != "audio:"+FallbackAnswer {
		t.Errorf("audio = %q", data)
	}
	if _, err := e.Audio(ctx, "user-1", 999, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown query id, got %v", err)
	}
}

func TestAskFallsBackWithoutContext(t *testing.T) {
	llm := &fakeLLM{response: "should not be used"}
	e, _, contents := newTestEngine(t, Options{}, Deps{LLM: llm})

	ans, err := e.Ask(context.Background(), "user-1", "anything?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != FallbackAnswer {
		t.Errorf("answer = %q, want fallback", ans.Answer)
	}
	if len(llm.prompts) != 0 {
		t.Error("model was called with no context")
	}
	if len(contents.history) != 1 || contents.history[0].Answer != FallbackAnswer {
		t.Errorf("fallback not recorded in history: %+v", contents.history)
	}
}

func TestAskFallsBackWhenEmbeddingFails(t *testing.T) {
	e, vectors, _ := newTestEngine(t, Options{}, Deps{Embed: &fakeEmbedder{err: errors.New("down")}})
	vectors.hits["site_information"] = []qdrant.Result{{Payload: qdrant.Payload{Text: "x"}}}

	ans, err := e.Ask(context.Background(), "user-1", "q?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != FallbackAnswer {
		t.Errorf("answer = %q, want fallback", ans.Answer)
	}
}

func TestAskTenantIsolation(t *testing.T) {
	llm := &fakeLLM{response: "leaky"}
	e, vectors, _ := newTestEngine(t, Options{}, Deps{LLM: llm})

	vectors.hits[CollectionFor("user-1")] = []qdrant.Result{
		{Payload: qdrant.Payload{TenantID: "user-1", ContentID: "c1", Text: "secret"}},
	}

	ans, err := e.Ask(context.Background(), "user-2", "tell me the secret", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != FallbackAnswer {
		t.Errorf("user-2 saw another tenant's context: %q", ans.Answer)
	}
}

func TestDeleteContentCascadesVectorsFirst(t *testing.T) {
	e, vectors, contents := newTestEngine(t, Options{}, Deps{})
	ctx := context.Background()

	rec, err := e.IngestPDF(ctx, "user-1", "report.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("IngestPDF: %v", err)
	}

	if err := e.DeleteContent(ctx, "user-1", rec.ID); err != nil {
		t.Fatalf("DeleteContent: %v", err)
	}
	if len(vectors.deleted) != 1 || vectors.deleted[0] != CollectionFor("user-1")+"/"+rec.ID {
		t.Errorf("vectors not deleted: %v", vectors.deleted)
	}
	if _, ok := contents.records[rec.ID]; ok {
		t.Error("record survived deletion")
	}

	if err := e.DeleteContent(ctx, "user-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWipeTenant(t *testing.T) {
	e, vectors, contents := newTestEngine(t, Options{}, Deps{})
	ctx := context.Background()

	if _, err := e.IngestPDF(ctx, "user-1", "report.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("IngestPDF: %v", err)
	}
	if _, err := e.Ask(ctx, "user-1", "q?", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if err := e.WipeTenant(ctx, "user-1"); err != nil {
		t.Fatalf("WipeTenant: %v", err)
	}
	if len(vectors.dropped) != 1 || vectors.dropped[0] != CollectionFor("user-1") {
		t.Errorf("collection not dropped: %v", vectors.dropped)
	}
	if n, _ := contents.CountContent(ctx, "user-1"); n != 0 {
		t.Errorf("content survived wipe: %d", n)
	}
	if h, _ := contents.ListHistory(ctx, "user-1", 10); len(h) != 0 {
		t.Errorf("history survived wipe: %v", h)
	}
}

func TestAudioSynthesizesWithoutCache(t *testing.T) {
	speech := &fakeSpeech{}
	e, _, _ := newTestEngine(t, Options{}, Deps{Speech: speech})

	data, err := e.Audio(context.Background(), "user-1", 0, "read this")
	if err != nil {
		t.Fatalf("Audio: %v", err)
	}
	if string(data) != "audio:read this" {
		t.Errorf("audio = %q", data)
	}
	if speech.calls != 1 {
		t.Errorf("synthesizer calls = %d", speech.calls)
	}
}

func TestStatusReportsQuota(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{ContentLimit: 3}, Deps{})
	ctx := context.Background()

	if _, err := e.IngestPDF(ctx, "user-1", "a.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("IngestPDF: %v", err)
	}
	st, err := e.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Used != 1 || st.Limit != 3 || len(st.Items) != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestQuotaMessageNamesLimit(t *testing.T) {
	e, _, _ := newTestEngine(t, Options{ContentLimit: 10}, Deps{})
	if got := e.QuotaMessage(); got != "Your quota is full. Maximum 10 content items allowed." {
		t.Errorf("quota message = %q", got)
	}
}

func TestCollectionForSanitizes(t *testing.T) {
	if got := CollectionFor("user@example.com"); got != "tenant_user_example_com" {
		t.Errorf("CollectionFor = %q", got)
	}
}
