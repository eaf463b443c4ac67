package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/knowbase/provider"
)

// Analysis is the lightweight metadata derived from a document at
// ingestion time. Everything here is advisory: an empty Analysis never
// blocks an ingest.
type Analysis struct {
	Summary            string   `json:"summary"`
	Keywords           []string `json:"keywords"`
	Topics             []string `json:"topics"`
	SuggestedQuestions []string `json:"suggested_questions"`
}

const (
	analysisTextLimit = 8000
	maxKeywords       = 10
)

const analysisPrompt = `Analyze the following document and respond with a single JSON object, nothing else.
Fields:
  "summary": 2-3 sentence summary of the document
  "keywords": up to %d important keywords
  "topics": the main topics covered
  "suggested_questions": 3 questions a reader could ask about this document

Document:
%s`

type analyzer struct {
	llm    provider.Provider
	logger *log.Logger
}

func newAnalyzer(llm provider.Provider) *analyzer {
	return &analyzer{
		llm:    llm,
		logger: log.New(log.Writer(), "[ANALYZE] ", log.LstdFlags),
	}
}

// Analyze asks the model for document metadata. Failures degrade to an
// empty Analysis so ingestion proceeds without it.
func (a *analyzer) Analyze(ctx context.Context, text string) Analysis {
	if a == nil || a.llm == nil {
		return Analysis{}
	}
	text = truncateAtRune(text, analysisTextLimit)
	raw, err := a.llm.Generate(ctx, fmt.Sprintf(analysisPrompt, maxKeywords, text))
	if err != nil {
		a.logger.Printf("analysis generation failed: %v", err)
		return Analysis{}
	}
	var out Analysis
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		a.logger.Printf("analysis response was not valid JSON: %v", err)
		return Analysis{}
	}
	if len(out.Keywords) > maxKeywords {
		out.Keywords = out.Keywords[:maxKeywords]
	}
	return out
}

// extractJSON pulls the JSON object out of a response that may be
// wrapped in markdown code fences or prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}

// truncateAtRune cuts s to at most n bytes without splitting a rune.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
