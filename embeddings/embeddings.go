// CLAUDE:SUMMARY Transport-agnostic embedding client — OpenAI-compatible HTTP backend, disabled fallback, cosine helpers.
// Package embeddings converts text to float32 vectors via any
// OpenAI-compatible embedding server (vLLM, Ollama, ONNX Runtime Server,
// OpenAI itself).
//
// The topic-fit scorer is the only consumer; it treats an unset endpoint or
// any transport error as "embeddings disabled" and falls back to a neutral
// score, so this package never has to be available for the decision loop
// to run.
//
// Usage:
//
//	emb := embeddings.New(embeddings.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "multilingual-e5-large",
//	})
//	vec, err := emb.Embed(ctx, "solar panel payback periods")
package embeddings

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrDisabled is returned by the disabled client for every call.
var ErrDisabled = errors.New("embeddings: no endpoint configured")

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one HTTP call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Enabled reports whether a real backend is configured.
	Enabled() bool
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server
	// (e.g. "http://localhost:8003"). Empty disables embeddings.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 10s. The scorer depends on this
	// bound: a hung embedding server must not stall candidate scoring.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. If Endpoint is empty, a disabled
// client is returned whose calls fail with ErrDisabled.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return disabledEmbedder{}
	}
	return newHTTPClient(cfg)
}

// disabledEmbedder fails every call with ErrDisabled so callers exercise
// their fallback path.
type disabledEmbedder struct{}

func (disabledEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrDisabled
}

func (disabledEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrDisabled
}

func (disabledEmbedder) Enabled() bool { return false }
