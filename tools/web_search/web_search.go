package web_search

import (
	"context"

	"github.com/mohammad-safakhou/knowbase/tools/web_search/brave"
	"github.com/mohammad-safakhou/knowbase/tools/web_search/models"
	"github.com/mohammad-safakhou/knowbase/tools/web_search/serper"
)

// WebSearcher discovers candidate URLs to suggest alongside an answer.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
