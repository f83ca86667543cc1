package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	dserrors "github.com/andrlange/docsearch/internal/errors"
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	Host       string
	Model      string
	Timeout    time.Duration
	BatchSize  int
	MaxRetries int
}

// OllamaProvider generates embeddings using Ollama's HTTP API.
type OllamaProvider struct {
	client *http.Client
	config OllamaConfig

	// available caches the result of the last canary probe.
	available atomic.Bool

	// observedDims holds the dimensionality seen in live responses,
	// zero until the first successful embedding.
	observedDims atomic.Int64

	closed atomic.Bool
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider. It does not contact the
// backend; call CheckAvailability before relying on Available.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &OllamaProvider{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     10 * time.Second,
			},
		},
		config: cfg,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed generates the embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.Dimensions()), nil
	}

	embeddings, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, dserrors.ProviderError("ollama returned no embedding", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Blank entries map to
// zero vectors without a backend call; order is preserved.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, p.Dimensions())
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += p.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := min(start+p.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := p.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, dserrors.ProviderError(
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(embeddings), len(batch)), nil)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

// embedWithRetry performs embedding with exponential backoff between attempts.
func (p *OllamaProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	if p.closed.Load() {
		return nil, dserrors.New(dserrors.ErrCodeProviderUnavailable, "ollama provider is closed", nil)
	}

	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		embeddings, err := p.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		slog.Debug("ollama embed attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, dserrors.New(dserrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("ollama embedding failed after %d attempts", p.config.MaxRetries), lastErr)
}

// doEmbed performs a single request to /api/embed.
func (p *OllamaProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, dserrors.New(dserrors.ErrCodeProviderUnavailable, "failed to reach ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, dserrors.New(dserrors.ErrCodeProviderResponse,
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var apiResult ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, dserrors.New(dserrors.ErrCodeProviderResponse, "failed to decode ollama response", err)
	}

	embeddings := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		embedding := make([]float32, len(emb))
		for j, v := range emb {
			embedding[j] = float32(v)
		}
		embeddings[i] = embedding
	}

	if len(embeddings) > 0 && len(embeddings[0]) > 0 {
		p.observedDims.Store(int64(len(embeddings[0])))
	}

	return embeddings, nil
}

// Dimensions returns the observed dimensionality, or the default until a
// live response has been seen.
func (p *OllamaProvider) Dimensions() int {
	if d := p.observedDims.Load(); d > 0 {
		return int(d)
	}
	return DefaultDimensions
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// ModelName returns the configured model.
func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// MaxTokens returns the assumed input-size capability.
func (p *OllamaProvider) MaxTokens() int {
	return DefaultMaxTokens
}

// Available reports the cached probe result.
func (p *OllamaProvider) Available() bool {
	return p.available.Load()
}

// CheckAvailability embeds a fixed canary string and caches the outcome.
// A successful probe also records the observed dimensionality.
func (p *OllamaProvider) CheckAvailability(ctx context.Context) bool {
	if p.closed.Load() {
		p.available.Store(false)
		return false
	}

	_, err := p.doEmbed(ctx, []string{probeText})
	ok := err == nil
	if was := p.available.Swap(ok); was != ok {
		slog.Info("ollama availability changed",
			slog.Bool("available", ok),
			slog.String("model", p.config.Model))
	}
	return ok
}

// Close releases resources.
func (p *OllamaProvider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.available.Store(false)
	if t, ok := p.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
