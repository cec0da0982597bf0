package embedding

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/precofacil/catalog/internal/domain"
)

// DefaultDimension is the dimension of the degraded all-zero vector
// produced when every model slot is unavailable.
const DefaultDimension = 384

// Ensemble weights over the primary and secondary signals, normalized
// over whichever are present.
const (
	primaryWeight   = 0.6
	secondaryWeight = 0.3
)

// Per-availability confidence levels.
const (
	confidenceEnsemble  = 0.95
	confidencePrimary   = 0.85
	confidenceSecondary = 0.75
	confidenceFallback  = 0.60
)

const defaultCacheSize = 4096

// slotState is the explicit three-state lifecycle of a model slot.
type slotState int

const (
	slotUnloaded slotState = iota
	slotUnavailable
	slotReady
)

// modelSlot lazily initializes one embedding model. Initialization
// failure degrades the slot to unavailable instead of propagating.
type modelSlot struct {
	name    string
	factory func() (domain.EmbeddingModel, error)

	mu    sync.Mutex
	state slotState
	model domain.EmbeddingModel
}

func newModelSlot(name string, factory func() (domain.EmbeddingModel, error)) *modelSlot {
	if factory == nil {
		return &modelSlot{name: name, state: slotUnavailable}
	}
	return &modelSlot{name: name, factory: factory}
}

// get returns the ready model or nil when the slot is unavailable.
func (s *modelSlot) get() domain.EmbeddingModel {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case slotReady:
		return s.model
	case slotUnavailable:
		return nil
	}

	model, err := s.factory()
	if err != nil {
		log.Printf("[EMBED] warning: %s model unavailable: %v", s.name, err)
		s.state = slotUnavailable
		return nil
	}
	s.state = slotReady
	s.model = model
	return model
}

// ModelFactory lazily constructs one model slot. A nil factory leaves
// the slot permanently unavailable.
type ModelFactory func() (domain.EmbeddingModel, error)

// Config holds the engine configuration.
type Config struct {
	Primary   ModelFactory
	Secondary ModelFactory
	Fallback  ModelFactory

	DefaultDimension int
	EnableEnsemble   bool
	CacheSize        int
	Debug            bool
}

// Engine produces ensemble embeddings with graceful degradation across
// three model slots. Results are memoized by (text, ensemble flag).
type Engine struct {
	primary   *modelSlot
	secondary *modelSlot
	fallback  *modelSlot

	defaultDim  int
	useEnsemble bool
	cache       *lru.Cache[string, domain.EmbeddingVector]
	debug       bool
}

// NewEngine creates an embedding engine.
func NewEngine(config Config) (*Engine, error) {
	dim := config.DefaultDimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	size := config.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, domain.EmbeddingVector](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	return &Engine{
		primary:     newModelSlot("primary", config.Primary),
		secondary:   newModelSlot("secondary", config.Secondary),
		fallback:    newModelSlot("fallback", config.Fallback),
		defaultDim:  dim,
		useEnsemble: config.EnableEnsemble,
		cache:       cache,
		debug:       config.Debug,
	}, nil
}

// Embed produces the embedding for one description. Blank input
// short-circuits to the zero result without touching any model.
func (e *Engine) Embed(ctx context.Context, text string) domain.EmbeddingVector {
	if strings.TrimSpace(text) == "" {
		return e.zeroResult()
	}

	key := e.cacheKey(text)
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	result := e.embed(ctx, text)
	e.cache.Add(key, result)
	return result
}

// EmbedBatch embeds many descriptions, reusing the memo for texts seen
// before and preserving input order in the output.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) []domain.EmbeddingVector {
	out := make([]domain.EmbeddingVector, len(texts))
	for i, text := range texts {
		out[i] = e.Embed(ctx, text)
	}
	return out
}

// embed applies the availability decision table.
func (e *Engine) embed(ctx context.Context, text string) domain.EmbeddingVector {
	primaryVec := e.encode(ctx, e.primary, text)
	var secondaryVec []float32
	if e.useEnsemble || primaryVec == nil {
		secondaryVec = e.encode(ctx, e.secondary, text)
	}

	switch {
	case primaryVec != nil && secondaryVec != nil && e.useEnsemble:
		ensemble := combineWeighted(primaryVec, secondaryVec, primaryWeight, secondaryWeight)
		return domain.EmbeddingVector{
			Primary:    primaryVec,
			Secondary:  secondaryVec,
			Ensemble:   ensemble,
			Confidence: confidenceEnsemble,
			ModelUsed:  domain.ModelEnsemble,
		}
	case primaryVec != nil:
		return domain.EmbeddingVector{
			Primary:    primaryVec,
			Secondary:  primaryVec,
			Ensemble:   primaryVec,
			Confidence: confidencePrimary,
			ModelUsed:  domain.ModelPrimary,
		}
	case secondaryVec != nil:
		return domain.EmbeddingVector{
			Primary:    secondaryVec,
			Secondary:  secondaryVec,
			Ensemble:   secondaryVec,
			Confidence: confidenceSecondary,
			ModelUsed:  domain.ModelSecondary,
		}
	}

	if fallbackVec := e.encode(ctx, e.fallback, text); fallbackVec != nil {
		return domain.EmbeddingVector{
			Primary:    fallbackVec,
			Secondary:  fallbackVec,
			Ensemble:   fallbackVec,
			Confidence: confidenceFallback,
			ModelUsed:  domain.ModelFallback,
		}
	}

	return e.zeroResult()
}

// encode runs one slot. Encode failures are logged and degrade this
// call, not the slot: a transient model error must never be fatal.
func (e *Engine) encode(ctx context.Context, slot *modelSlot, text string) []float32 {
	model := slot.get()
	if model == nil {
		return nil
	}
	vec, err := model.Encode(ctx, text)
	if err != nil {
		log.Printf("[EMBED] warning: %s encode failed: %v", slot.name, err)
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}

func (e *Engine) zeroResult() domain.EmbeddingVector {
	zero := make([]float32, e.defaultDim)
	return domain.EmbeddingVector{
		Primary:    zero,
		Secondary:  zero,
		Ensemble:   zero,
		Confidence: 0,
		ModelUsed:  domain.ModelZero,
	}
}

func (e *Engine) cacheKey(text string) string {
	if e.useEnsemble {
		return "1|" + text
	}
	return "0|" + text
}

// combineWeighted truncates both vectors to the shorter dimension,
// computes the weighted sum with weights normalized over the two
// present signals, then L2-normalizes. A zero-norm result is returned
// as-is.
func combineWeighted(a, b []float32, wa, wb float64) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	total := wa + wb
	wa /= total
	wb /= total

	out := make([]float32, n)
	var norm float64
	for i := 0; i < n; i++ {
		v := wa*float64(a[i]) + wb*float64(b[i])
		out[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return out
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= scale
	}
	return out
}

var _ domain.Embedder = (*Engine)(nil)
