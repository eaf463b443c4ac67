package extract

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// maxBodyBytes bounds how much HTML we pull from a page.
	maxBodyBytes = 8 << 20
)

// WebExtractor fetches a URL and extracts its main content. A
// precision-oriented readability pass runs first; when it yields too
// little text the generic DOM extractor takes over, and for script-heavy
// shells an optional headless re-fetch is attempted before giving up.
type WebExtractor struct {
	Client *http.Client
	// MinTextLength is the threshold under which the readability result
	// is considered a failed extraction.
	MinTextLength int
	// Headless enables the chromedp re-fetch for pages whose static HTML
	// carries almost no content.
	Headless bool

	Logger *log.Logger
}

func NewWebExtractor(client *http.Client, minTextLength int, headless bool) *WebExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	if minTextLength <= 0 {
		minTextLength = 500
	}
	return &WebExtractor{
		Client:        client,
		MinTextLength: minTextLength,
		Headless:      headless,
		Logger:        log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags),
	}
}

// Extract returns the normalized main content of the page at rawURL.
func (w *WebExtractor) Extract(ctx context.Context, rawURL string) (Document, error) {
	html, err := w.fetchHTML(ctx, rawURL)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	doc, ok := w.extractFromHTML(html, rawURL)
	if !ok && w.Headless {
		w.Logger.Printf("static fetch too thin for %s, retrying headless", rawURL)
		if rendered, rerr := fetchRenderedHTML(ctx, rawURL); rerr == nil {
			doc, ok = w.extractFromHTML(rendered, rawURL)
		}
	}
	if !ok {
		return Document{}, fmt.Errorf("extract %s: %w", rawURL, ErrNoContent)
	}

	doc.URL = rawURL
	doc.ByteSize = int64(len(html))
	return doc, nil
}

// extractFromHTML runs the readability pass and the DOM fallback over
// already-fetched HTML.
func (w *WebExtractor) extractFromHTML(html, rawURL string) (Document, bool) {
	var doc Document

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err == nil {
		doc = Document{
			Text:   CleanText(article.TextContent),
			Title:  strings.TrimSpace(article.Title),
			Author: strings.TrimSpace(article.Byline),
		}
	}

	if len(doc.Text) < w.MinTextLength {
		w.Logger.Printf("readability yielded %d chars for %s, trying DOM fallback", len(doc.Text), rawURL)
		fallback, fok := extractFromDOM(html)
		if fok && len(fallback.Text) > len(doc.Text) {
			if doc.Title != "" {
				fallback.Title = doc.Title
			}
			if doc.Author != "" && fallback.Author == "" {
				fallback.Author = doc.Author
			}
			doc = fallback
		}
	}

	// Anything under this is boilerplate, not content.
	if len(doc.Text) < 100 {
		return Document{}, false
	}
	return doc, true
}

func (w *WebExtractor) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
