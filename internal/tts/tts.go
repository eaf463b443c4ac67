package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Synthesizer turns answer text into playable audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Client speaks to a StreamElements-compatible speech endpoint.
type Client struct {
	endpoint string
	voice    string
	maxChars int
	client   *http.Client
}

func NewClient(endpoint, voice string, maxChars int, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = "https://api.streamelements.com/kappa/v2/speech"
	}
	if voice == "" {
		voice = "Russell"
	}
	if maxChars <= 0 {
		maxChars = 5000
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		voice:    voice,
		maxChars: maxChars,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("tts: empty text")
	}
	if len(text) > c.maxChars {
		// Cut on a rune boundary so the endpoint never sees a mangled
		// trailing character.
		cut := c.maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	q := url.Values{}
	q.Set("voice", c.voice)
	q.Set("text", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: speech endpoint returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
