package embed

import (
	"errors"
	"log/slog"

	"github.com/andrlange/docsearch/internal/config"
	dserrors "github.com/andrlange/docsearch/internal/errors"
)

// NewProvider constructs the embedding provider selected by configuration,
// wrapped with an LRU cache. A provider that cannot be constructed for
// configuration reasons (missing OpenAI credentials) degrades to the no-op
// provider instead of failing startup.
func NewProvider(cfg *config.Config) (Provider, error) {
	inner, err := newRawProvider(cfg)
	if err != nil {
		var derr *dserrors.Error
		if errors.As(err, &derr) && derr.Category == dserrors.CategoryConfig {
			slog.Warn("embedding provider misconfigured, falling back to no-op",
				slog.String("provider", cfg.Embeddings.Provider),
				slog.String("error", err.Error()))
			return NewNoopProvider(cfg.Embeddings.Dimensions), nil
		}
		return nil, err
	}

	if _, ok := inner.(*NoopProvider); ok {
		return inner, nil
	}
	return NewCachedProvider(inner, DefaultCacheSize), nil
}

func newRawProvider(cfg *config.Config) (Provider, error) {
	emb := cfg.Embeddings

	switch emb.Provider {
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			Host:       emb.Ollama.Host,
			Model:      emb.Ollama.Model,
			Timeout:    emb.Ollama.Timeout,
			BatchSize:  emb.BatchSize,
			MaxRetries: emb.Retry.MaxRetries,
		}), nil

	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     emb.OpenAI.APIKey,
			Model:      emb.OpenAI.Model,
			Timeout:    emb.OpenAI.Timeout,
			BatchSize:  emb.BatchSize,
			MaxRetries: emb.Retry.MaxRetries,
		})

	case "none":
		return NewNoopProvider(emb.Dimensions), nil

	default:
		return nil, dserrors.ConfigError("unknown embedding provider: "+emb.Provider, nil)
	}
}
