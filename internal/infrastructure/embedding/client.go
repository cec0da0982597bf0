package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/precofacil/catalog/internal/domain"
)

// HTTPModelConfig configures one remote embedding model endpoint.
type HTTPModelConfig struct {
	Name      string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
	// RequestsPerSecond bounds calls to the external model service.
	RequestsPerSecond float64
}

// HTTPModel is a remote encode(text)->vector capability spoken over the
// /api/embed JSON protocol. Calls are rate limited and wrapped in a
// circuit breaker so a dead model service degrades the slot instead of
// stalling the pipeline.
type HTTPModel struct {
	name        string
	baseURL     string
	model       string
	dimension   int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPModel creates a remote model client.
func NewHTTPModel(config HTTPModelConfig) (*HTTPModel, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: no endpoint configured for %s", domain.ErrModelUnavailable, config.Name)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	dimension := config.Dimension
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    config.Name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &HTTPModel{
		name:        config.Name,
		baseURL:     config.BaseURL,
		model:       config.Model,
		dimension:   dimension,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 5),
		breaker:     breaker,
	}, nil
}

// Name returns the configured model identity string.
func (m *HTTPModel) Name() string { return m.name }

// Dimension returns the fixed vector dimension of this model.
func (m *HTTPModel) Dimension() int { return m.dimension }

// Encode requests the embedding for one text.
func (m *HTTPModel) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := m.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.encode(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit open", domain.ErrModelUnavailable, m.name)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (m *HTTPModel) encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: m.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s returned status %d: %s", m.name, resp.StatusCode, string(payload))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%s returned empty embedding vector", m.name)
	}

	vec := respData.Embeddings[0]
	if len(vec) > m.dimension {
		vec = vec[:m.dimension]
	}
	return vec, nil
}

var _ domain.EmbeddingModel = (*HTTPModel)(nil)
