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

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	BatchSize  int
	MaxRetries int
}

// OpenAIProvider generates embeddings using the OpenAI embeddings API.
type OpenAIProvider struct {
	client *http.Client
	config OpenAIConfig

	available    atomic.Bool
	observedDims atomic.Int64
	closed       atomic.Bool
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider. A missing API key is a
// configuration error; callers degrade to the no-op provider in that case.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, dserrors.New(dserrors.ErrCodeMissingCredentials,
			"openai provider requires an API key (set DOCSEARCH_OPENAI_API_KEY)", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
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

	return &OpenAIProvider{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates the embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.Dimensions()), nil
	}

	embeddings, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, dserrors.ProviderError("openai returned no embedding", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
				fmt.Sprintf("openai returned %d embeddings for %d inputs", len(embeddings), len(batch)), nil)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

func (p *OpenAIProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	if p.closed.Load() {
		return nil, dserrors.New(dserrors.ErrCodeProviderUnavailable, "openai provider is closed", nil)
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

		slog.Debug("openai embed attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, dserrors.New(dserrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("openai embedding failed after %d attempts", p.config.MaxRetries), lastErr)
}

func (p *OpenAIProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, dserrors.New(dserrors.ErrCodeProviderUnavailable, "failed to reach openai", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, dserrors.New(dserrors.ErrCodeProviderResponse,
			fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var apiResult openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, dserrors.New(dserrors.ErrCodeProviderResponse, "failed to decode openai response", err)
	}

	// The API may reorder results; place them by index.
	embeddings := make([][]float32, len(apiResult.Data))
	for _, item := range apiResult.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, dserrors.New(dserrors.ErrCodeProviderResponse,
				fmt.Sprintf("openai returned out-of-range index %d", item.Index), nil)
		}
		embedding := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			embedding[j] = float32(v)
		}
		embeddings[item.Index] = embedding
	}

	if len(embeddings) > 0 && len(embeddings[0]) > 0 {
		p.observedDims.Store(int64(len(embeddings[0])))
	}

	return embeddings, nil
}

// Dimensions returns the observed dimensionality, or the default until a
// live response has been seen.
func (p *OpenAIProvider) Dimensions() int {
	if d := p.observedDims.Load(); d > 0 {
		return int(d)
	}
	return DefaultDimensions
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// ModelName returns the configured model.
func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

// MaxTokens returns the assumed input-size capability.
func (p *OpenAIProvider) MaxTokens() int {
	return DefaultMaxTokens
}

// Available reports the cached probe result.
func (p *OpenAIProvider) Available() bool {
	return p.available.Load()
}

// CheckAvailability embeds a fixed canary string and caches the outcome.
func (p *OpenAIProvider) CheckAvailability(ctx context.Context) bool {
	if p.closed.Load() {
		p.available.Store(false)
		return false
	}

	_, err := p.doEmbed(ctx, []string{probeText})
	ok := err == nil
	if was := p.available.Swap(ok); was != ok {
		slog.Info("openai availability changed",
			slog.Bool("available", ok),
			slog.String("model", p.config.Model))
	}
	return ok
}

// Close releases resources.
func (p *OpenAIProvider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.available.Store(false)
	if t, ok := p.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
