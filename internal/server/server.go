package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/mohammad-safakhou/knowbase/config"
	"github.com/mohammad-safakhou/knowbase/internal/cache"
	"github.com/mohammad-safakhou/knowbase/internal/embedding"
	"github.com/mohammad-safakhou/knowbase/internal/engine"
	"github.com/mohammad-safakhou/knowbase/internal/extract"
	"github.com/mohammad-safakhou/knowbase/internal/store"
	"github.com/mohammad-safakhou/knowbase/internal/tts"
	"github.com/mohammad-safakhou/knowbase/internal/vectorstore/qdrant"
	openai_provider "github.com/mohammad-safakhou/knowbase/provider/openai"
	"github.com/mohammad-safakhou/knowbase/tools/web_search"
)

// Run wires every dependency and serves HTTP until the listener fails.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	if cfg.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key not configured (providers.openai.api_key)")
	}
	llm := openai_provider.NewClient(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.BaseURL,
		cfg.Providers.OpenAI.CompletionModel,
		cfg.Providers.OpenAI.EmbeddingModel,
		cfg.Providers.OpenAI.Temperature,
		cfg.Providers.OpenAI.MaxTokens,
		cfg.Providers.OpenAI.Timeout,
	)

	vectors, err := qdrant.NewStore(qdrant.Config{
		URL:       cfg.Databases.Qdrant.URL,
		APIKey:    cfg.Databases.Qdrant.APIKey,
		Dimension: cfg.Databases.Qdrant.Dimension,
		BatchSize: cfg.Ingest.EmbedBatchSize,
		Timeout:   cfg.Databases.Qdrant.Timeout,
	})
	if err != nil {
		return err
	}
	if err := vectors.EnsureCollection(ctx, cfg.Retrieval.SharedCollection); err != nil {
		return fmt.Errorf("shared collection: %w", err)
	}

	var artifactCache *cache.Cache
	if cfg.Cache.Enabled {
		rc, err := cache.Conn(ctx,
			cfg.Databases.Redis.Host, cfg.Databases.Redis.Port,
			cfg.Databases.Redis.Password, cfg.Databases.Redis.DB,
			cfg.Databases.Redis.Timeout)
		if err != nil {
			// The cache is optional; run uncached rather than refuse to start.
			baseLogger.Printf("redis unavailable, caching disabled: %v", err)
		} else {
			artifactCache = cache.New(rc, cfg.Cache.AudioTTL)
		}
	}

	var searcher web_search.WebSearcher
	if cfg.Search.Provider != "" {
		searcher, err = web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey)
		if err != nil {
			return err
		}
	}

	httpClient := &http.Client{Timeout: cfg.General.DefaultTimeout}
	web := extract.NewWebExtractor(httpClient, cfg.Ingest.MinWebTextLength, true)

	eng, err := engine.New(engine.Options{
		ContentLimit:     cfg.Ingest.ContentLimit,
		HistoryLimit:     cfg.Ingest.HistoryLimit,
		TopK:             cfg.Retrieval.TopK,
		SharedCollection: cfg.Retrieval.SharedCollection,
		ContextURLs:      cfg.Retrieval.ContextURLs,
		ChunkSize:        cfg.Ingest.ChunkSize,
		ChunkOverlap:     cfg.Ingest.ChunkOverlap,
	}, engine.Deps{
		LLM:      llm,
		Embed:    embedding.New(llm, cfg.Ingest.EmbedBatchSize),
		Vectors:  vectors,
		Contents: st,
		Cache:    artifactCache,
		Speech:   tts.NewClient(cfg.TTS.Endpoint, cfg.TTS.Voice, cfg.TTS.MaxChars, cfg.TTS.Timeout),
		Searcher: searcher,
		Web:      web,
		ValidateURL: func(ctx context.Context, raw string) (string, error) {
			return extract.ValidateURL(ctx, httpClient, raw)
		},
	})
	if err != nil {
		return err
	}

	rh := &RagHandler{Engine: eng}
	rh.Register(e.Group("/rag"))

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":10002"
	}
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
	}
	return e.StartServer(srv)
}
