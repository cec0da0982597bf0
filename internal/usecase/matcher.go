package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/precofacil/catalog/internal/domain"
)

// defaultMaxCandidates bounds the similarity search to the most
// frequent generic products for cost control.
const defaultMaxCandidates = 1000

// MatcherConfig holds configuration for the product matcher.
type MatcherConfig struct {
	MaxCandidates      int
	EnableDebugLogging bool
}

// ProductMatcher resolves raw observations against the generic product
// catalog: exact lookup, then similarity search, then create-new. It
// also maintains the running aggregate statistics.
type ProductMatcher struct {
	catalog    domain.CatalogRepository
	normalizer *Normalizer
	similarity *SimilarityCalculator
	embedder   domain.Embedder
	audit      domain.AuditLog

	maxCandidates int
	debug         bool
}

// NewProductMatcher creates a matcher. The embedder and audit log are
// optional; a nil embedder degrades matching to the lexical signal.
func NewProductMatcher(
	catalog domain.CatalogRepository,
	normalizer *Normalizer,
	similarity *SimilarityCalculator,
	embedder domain.Embedder,
	audit domain.AuditLog,
	config MatcherConfig,
) *ProductMatcher {
	maxCandidates := config.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}

	return &ProductMatcher{
		catalog:       catalog,
		normalizer:    normalizer,
		similarity:    similarity,
		embedder:      embedder,
		audit:         audit,
		maxCandidates: maxCandidates,
		debug:         config.EnableDebugLogging,
	}
}

// FindOrCreate resolves one observation to a generic product id.
// Strictly ordered: exact match on the raw string, similarity search
// over the most frequent products, then creation of a new identity.
// For a fixed catalog the same description always resolves to the same
// id.
func (m *ProductMatcher) FindOrCreate(ctx context.Context, obs domain.RawProductObservation) (*domain.MatchResult, error) {
	if strings.TrimSpace(obs.Description) == "" || obs.EstablishmentID == "" {
		return nil, domain.ErrInvalidRequest
	}

	// Step 1: exact match against canonical and alternative descriptions.
	if existing, err := m.catalog.GetByDescription(ctx, obs.Description); err == nil {
		if m.debug {
			log.Printf("[MATCH] exact: %q -> %s", obs.Description, existing.ID)
		}
		if err := m.updateStatistics(ctx, existing, obs, ""); err != nil {
			return nil, err
		}
		return &domain.MatchResult{
			GenericProductID:   existing.ID,
			MatchedDescription: existing.CanonicalDescription,
			SimilarityScore:    1.0,
			ConfidenceScore:    1.0,
			MatchMethod:        domain.MatchMethodExact,
		}, nil
	} else if !errors.Is(err, domain.ErrProductNotFound) {
		return nil, fmt.Errorf("exact lookup: %w", err)
	}

	nd := m.normalizer.Normalize(ctx, obs.Description)
	features := ExtractFeatures(nd)

	var inputEmbedding *domain.EmbeddingVector
	if m.embedder != nil {
		ev := m.embedder.Embed(ctx, nd.Normalized)
		inputEmbedding = &ev
	}

	// Step 2: similarity search over the top candidates.
	best, bestResult, err := m.bestCandidate(ctx, features, inputEmbedding)
	if err != nil {
		return nil, err
	}

	if best != nil && m.similarity.IsMatch(bestResult) {
		if m.debug {
			log.Printf("[MATCH] similarity: %q -> %s (score=%.3f)",
				obs.Description, best.ID, bestResult.FinalScore)
		}
		if m.audit != nil {
			if err := m.audit.RecordMatch(ctx, domain.MatchAuditEntry{
				SourceDescription: obs.Description,
				GenericProductID:  best.ID,
				SimilarityScore:   bestResult.FinalScore,
				EstablishmentID:   obs.EstablishmentID,
				MatchedAt:         time.Now().UTC(),
			}); err != nil {
				log.Printf("[MATCH] warning: audit append failed: %v", err)
			}
		}
		if err := m.updateStatistics(ctx, best, obs, obs.Description); err != nil {
			return nil, err
		}
		return &domain.MatchResult{
			GenericProductID:   best.ID,
			MatchedDescription: best.CanonicalDescription,
			SimilarityScore:    bestResult.FinalScore,
			ConfidenceScore:    bestResult.ConfidenceScore,
			MatchMethod:        domain.MatchMethodSimilarity,
			MatchingTokens:     bestResult.MatchingTokens,
		}, nil
	}

	// Step 3: nothing cleared the threshold; create a new identity.
	return m.createNew(ctx, obs, nd, inputEmbedding)
}

// bestCandidate scores the input against the most frequent products and
// keeps the best pair. Ties break by highest total occurrences, then
// lexical id order, so the result is independent of iteration order.
func (m *ProductMatcher) bestCandidate(
	ctx context.Context,
	features domain.FeatureSet,
	inputEmbedding *domain.EmbeddingVector,
) (*domain.GenericProduct, domain.SimilarityResult, error) {
	candidates, err := m.catalog.TopByOccurrences(ctx, m.maxCandidates)
	if err != nil {
		return nil, domain.SimilarityResult{}, fmt.Errorf("loading candidates: %w", err)
	}

	var best *domain.GenericProduct
	var bestResult domain.SimilarityResult

	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			return nil, domain.SimilarityResult{}, ctx.Err()
		default:
		}

		candFeatures := ExtractFeatures(m.normalizer.Normalize(ctx, candidate.CanonicalDescription))

		// Differing brand+size signatures can never be the same product.
		if StrongCoreKey(features.CoreKey) && StrongCoreKey(candFeatures.CoreKey) &&
			features.CoreKey != candFeatures.CoreKey {
			continue
		}

		var candEmbedding *domain.EmbeddingVector
		if len(candidate.Embedding) > 0 {
			candEmbedding = &domain.EmbeddingVector{
				Ensemble:  candidate.Embedding,
				ModelUsed: domain.ModelEnsemble,
			}
		}

		result := m.similarity.Score(features, candFeatures, inputEmbedding, candEmbedding)

		if best == nil || betterCandidate(result, candidate, bestResult, best) {
			best = candidate
			bestResult = result
		}
	}

	return best, bestResult, nil
}

// betterCandidate implements the deterministic ordering: score first,
// then total occurrences descending, then id ascending.
func betterCandidate(r domain.SimilarityResult, p *domain.GenericProduct, bestR domain.SimilarityResult, bestP *domain.GenericProduct) bool {
	const epsilon = 1e-9
	switch {
	case r.FinalScore > bestR.FinalScore+epsilon:
		return true
	case r.FinalScore < bestR.FinalScore-epsilon:
		return false
	case p.TotalOccurrences != bestP.TotalOccurrences:
		return p.TotalOccurrences > bestP.TotalOccurrences
	default:
		return p.ID < bestP.ID
	}
}

// createNew allocates a fresh generic product. A unique-violation on
// insert means a concurrent writer beat us to this identity; the insert
// is advisory and we re-resolve via exact lookup on the normalized name.
func (m *ProductMatcher) createNew(
	ctx context.Context,
	obs domain.RawProductObservation,
	nd domain.NormalizedDescription,
	embedding *domain.EmbeddingVector,
) (*domain.MatchResult, error) {
	now := time.Now().UTC()
	product := &domain.GenericProduct{
		ID:                      uuid.New().String(),
		CanonicalDescription:    obs.Description,
		AlternativeDescriptions: []string{obs.Description},
		NormalizedName:          nd.IdentityKey(),
		Brand:                   nd.Brand,
		Unit:                    firstNonEmpty(nd.Unit, obs.Unit),
		ConfidenceScore:         nd.Confidence,
		TotalOccurrences:        1,
		EstablishmentsCount:     1,
		FirstSeen:               now,
		LastSeen:                now,
	}
	if len(nd.CategoryHints) > 0 {
		product.Category = nd.CategoryHints[0]
	}
	if obs.UnitPrice != nil {
		price := *obs.UnitPrice
		product.AvgPrice = &price
		minPrice, maxPrice := price, price
		product.MinPrice = &minPrice
		product.MaxPrice = &maxPrice
		variance := 0.0
		product.PriceVariance = &variance
	}
	if embedding != nil && !embedding.IsZero() {
		product.Embedding = embedding.Ensemble
	}

	err := m.catalog.Insert(ctx, product)
	if errors.Is(err, domain.ErrDuplicateProduct) {
		winner, lookupErr := m.catalog.GetByNormalizedName(ctx, product.NormalizedName)
		if lookupErr != nil {
			return nil, fmt.Errorf("re-resolving after duplicate insert: %w", lookupErr)
		}
		if m.debug {
			log.Printf("[MATCH] duplicate insert for %q, re-resolved to %s", obs.Description, winner.ID)
		}
		if err := m.updateStatistics(ctx, winner, obs, obs.Description); err != nil {
			return nil, err
		}
		return &domain.MatchResult{
			GenericProductID:   winner.ID,
			MatchedDescription: winner.CanonicalDescription,
			SimilarityScore:    1.0,
			ConfidenceScore:    winner.ConfidenceScore,
			MatchMethod:        domain.MatchMethodExact,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inserting generic product: %w", err)
	}

	if err := m.upsertEstablishmentProduct(ctx, product, obs); err != nil {
		return nil, err
	}

	if m.debug {
		log.Printf("[MATCH] new: %q -> %s", obs.Description, product.ID)
	}

	return &domain.MatchResult{
		GenericProductID:   product.ID,
		MatchedDescription: product.CanonicalDescription,
		SimilarityScore:    1.0,
		ConfidenceScore:    nd.Confidence,
		MatchMethod:        domain.MatchMethodNew,
		IsNewProduct:       true,
	}, nil
}

// updateStatistics applies one observation to an existing product:
// occurrence counts, establishment coverage, incremental price mean,
// min/max and variance, plus the per-establishment rollup. newAltDesc,
// when non-empty, is appended to the alternative descriptions so later
// exact lookups hit it.
func (m *ProductMatcher) updateStatistics(
	ctx context.Context,
	product *domain.GenericProduct,
	obs domain.RawProductObservation,
	newAltDesc string,
) error {
	_, epErr := m.catalog.GetEstablishmentProduct(ctx, product.ID, obs.EstablishmentID)
	firstAtEstablishment := errors.Is(epErr, domain.ErrProductNotFound)
	if epErr != nil && !firstAtEstablishment {
		return fmt.Errorf("loading establishment rollup: %w", epErr)
	}

	product.TotalOccurrences++
	if firstAtEstablishment {
		product.EstablishmentsCount++
	}

	if obs.UnitPrice != nil {
		applyPrice(&product.AvgPrice, &product.MinPrice, &product.MaxPrice,
			product.TotalOccurrences, *obs.UnitPrice)
		product.PriceVariance = priceVariance(product.MinPrice, product.MaxPrice)
	}

	if newAltDesc != "" && !product.HasDescription(newAltDesc) {
		product.AlternativeDescriptions = append(product.AlternativeDescriptions, newAltDesc)
	}
	product.LastSeen = time.Now().UTC()

	if err := m.catalog.Update(ctx, product); err != nil {
		return fmt.Errorf("updating generic product: %w", err)
	}

	return m.upsertEstablishmentProduct(ctx, product, obs)
}

// upsertEstablishmentProduct maintains the per-establishment rollup with
// the same incremental-mean discipline scoped to one establishment.
func (m *ProductMatcher) upsertEstablishmentProduct(
	ctx context.Context,
	product *domain.GenericProduct,
	obs domain.RawProductObservation,
) error {
	now := time.Now().UTC()

	ep, err := m.catalog.GetEstablishmentProduct(ctx, product.ID, obs.EstablishmentID)
	if errors.Is(err, domain.ErrProductNotFound) {
		ep = &domain.EstablishmentProduct{
			GenericProductID: product.ID,
			EstablishmentID:  obs.EstablishmentID,
			LocalDescription: obs.Description,
			ProductCode:      obs.ProductCode,
			Unit:             obs.Unit,
			OccurrenceCount:  1,
			FirstSeen:        now,
			LastSeen:         now,
		}
		if obs.UnitPrice != nil {
			price := *obs.UnitPrice
			ep.CurrentPrice = &price
			avg, minPrice, maxPrice := price, price, price
			ep.AvgPrice = &avg
			ep.MinPrice = &minPrice
			ep.MaxPrice = &maxPrice
		}
		return m.catalog.UpsertEstablishmentProduct(ctx, ep)
	}
	if err != nil {
		return fmt.Errorf("loading establishment rollup: %w", err)
	}

	ep.OccurrenceCount++
	ep.LocalDescription = obs.Description
	if obs.ProductCode != "" {
		ep.ProductCode = obs.ProductCode
	}
	if obs.Unit != "" {
		ep.Unit = obs.Unit
	}
	if obs.UnitPrice != nil {
		price := *obs.UnitPrice
		ep.CurrentPrice = &price
		applyPrice(&ep.AvgPrice, &ep.MinPrice, &ep.MaxPrice, ep.OccurrenceCount, price)
	}
	ep.LastSeen = now

	return m.catalog.UpsertEstablishmentProduct(ctx, ep)
}

// applyPrice folds one observed price into the aggregates using the
// incremental mean: new_avg = (old_avg*(count-1) + price) / count, where
// count already includes the just-incremented occurrence.
func applyPrice(avg, minPrice, maxPrice **float64, count int, price float64) {
	if *avg == nil {
		v := price
		*avg = &v
		mn, mx := price, price
		*minPrice = &mn
		*maxPrice = &mx
		return
	}

	newAvg := (**avg*float64(count-1) + price) / float64(count)
	**avg = newAvg

	if *minPrice == nil || price < **minPrice {
		v := price
		*minPrice = &v
	}
	if *maxPrice == nil || price > **maxPrice {
		v := price
		*maxPrice = &v
	}
}

// priceVariance is the min/max spread in percent, guarded against
// division by zero.
func priceVariance(minPrice, maxPrice *float64) *float64 {
	if minPrice == nil || maxPrice == nil || *minPrice == 0 {
		return nil
	}
	v := (*maxPrice - *minPrice) / *minPrice * 100
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
