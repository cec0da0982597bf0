package usecase

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/precofacil/catalog/internal/domain"
)

// Quality score weights for consolidated groups.
const (
	qualityDescWeight      = 0.4
	qualityUnitWeight      = 0.3
	qualityDiversityWeight = 0.3

	descLengthTarget   = 25.0
	diversityTarget    = 5.0
	unitAgreementScore = 1.0
	unitMixedScore     = 0.7

	consolidationBase          = 0.5
	consolidationIdenticalNorm = 0.3
	consolidationUnitsAgree    = 0.2

	lowConfidenceCutoff = 0.7
)

// DedupConfig holds configuration for the batch deduplication service.
type DedupConfig struct {
	// SimilarityThreshold is validated like every other threshold even
	// though the batch path groups by exact normalized key only; fuzzy
	// grouping is a deferred extension.
	SimilarityThreshold float64
	StandardizeUnits    bool
	EnableDebugLogging  bool
}

// ConsolidationStats summarizes one batch run.
type ConsolidationStats struct {
	TotalProducts    int `json:"totalProducts"`
	MasterProducts   int `json:"masterProducts"`
	DuplicatesMerged int `json:"duplicatesMerged"`
	SingletonGroups  int `json:"singletonGroups"`
}

// ConsolidationQuality aggregates the per-group quality signals.
type ConsolidationQuality struct {
	AvgQualityScore            float64 `json:"avgQualityScore"`
	AvgConsolidationConfidence float64 `json:"avgConsolidationConfidence"`
	LowConfidenceGroups        int     `json:"lowConfidenceGroups"`
}

// ConsolidationResult is the full output of one master-table build.
type ConsolidationResult struct {
	MasterProducts  []domain.MasterProduct `json:"masterProducts"`
	ProductMapping  map[string]string      `json:"productMapping"`
	Statistics      ConsolidationStats     `json:"statistics"`
	QualityMetrics  ConsolidationQuality   `json:"qualityMetrics"`
	Recommendations []string               `json:"recommendations"`
}

// DedupService builds a clean master table over a bulk product
// snapshot. Unlike the online matcher, grouping is exact-key only:
// products sharing one normalized identity key end up merged.
type DedupService struct {
	normalizer       *Normalizer
	rules            *RuleTable
	threshold        float64
	standardizeUnits bool
	debug            bool
}

// NewDedupService creates the batch deduplication service.
func NewDedupService(normalizer *Normalizer, rules *RuleTable, config DedupConfig) (*DedupService, error) {
	if config.SimilarityThreshold < 0 || config.SimilarityThreshold > 1 {
		return nil, domain.ErrInvalidThreshold
	}
	return &DedupService{
		normalizer:       normalizer,
		rules:            rules,
		threshold:        config.SimilarityThreshold,
		standardizeUnits: config.StandardizeUnits,
		debug:            config.EnableDebugLogging,
	}, nil
}

// descGroup accumulates one exact-key group in stable insertion order.
type descGroup struct {
	key          string
	observations []domain.RawProductObservation
	normalized   []domain.NormalizedDescription
}

// BuildMasterTable groups the snapshot by normalized identity and emits
// master records with quality and consolidation-confidence scores.
// Failures on individual items are recorded and skipped, never fatal to
// the batch.
func (s *DedupService) BuildMasterTable(ctx context.Context, products []domain.RawProductObservation) (*ConsolidationResult, error) {
	groups := make(map[string]*descGroup)
	var order []string
	skipped := 0

	for _, obs := range products {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		nd := s.normalizer.Normalize(ctx, obs.Description)
		key := nd.IdentityKey()
		if key == "" {
			skipped++
			if s.debug {
				log.Printf("[DEDUP] skipping unnormalizable description %q", obs.Description)
			}
			continue
		}

		if s.standardizeUnits {
			obs.Unit = s.rules.StandardizeUnit(obs.Unit)
		}

		g, ok := groups[key]
		if !ok {
			g = &descGroup{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.observations = append(g.observations, obs)
		g.normalized = append(g.normalized, nd)
	}

	result := &ConsolidationResult{
		ProductMapping: make(map[string]string),
	}
	result.Statistics.TotalProducts = len(products)

	var qualitySum, confidenceSum float64

	for _, key := range order {
		g := groups[key]
		master := s.consolidateGroup(g)
		result.MasterProducts = append(result.MasterProducts, master)

		for _, obs := range g.observations {
			result.ProductMapping[obs.Description] = master.NormalizedName
		}

		qualitySum += master.QualityScore
		confidenceSum += master.ConsolidationConfidence
		if master.ConsolidationConfidence < lowConfidenceCutoff {
			result.QualityMetrics.LowConfidenceGroups++
		}
		if master.MergedFrom == 1 {
			result.Statistics.SingletonGroups++
		} else {
			result.Statistics.DuplicatesMerged += master.MergedFrom - 1
		}
	}

	result.Statistics.MasterProducts = len(result.MasterProducts)
	if n := len(result.MasterProducts); n > 0 {
		result.QualityMetrics.AvgQualityScore = qualitySum / float64(n)
		result.QualityMetrics.AvgConsolidationConfidence = confidenceSum / float64(n)
	}
	result.Recommendations = s.recommendations(result, skipped)

	if s.debug {
		log.Printf("[DEDUP] %d products -> %d masters (%d duplicates merged, %d skipped)",
			len(products), len(result.MasterProducts), result.Statistics.DuplicatesMerged, skipped)
	}

	return result, nil
}

// consolidateGroup builds the master record for one exact-key group.
func (s *DedupService) consolidateGroup(g *descGroup) domain.MasterProduct {
	// Representative: the longest raw description in the group.
	representative := g.observations[0].Description
	for _, obs := range g.observations[1:] {
		if len(obs.Description) > len(representative) {
			representative = obs.Description
		}
	}

	unit := mostFrequentUnit(g.observations)

	// Establishment aggregation in first-encounter order.
	counts := make(map[string]int)
	var estOrder []string
	for _, obs := range g.observations {
		if obs.EstablishmentID == "" {
			continue
		}
		if _, seen := counts[obs.EstablishmentID]; !seen {
			estOrder = append(estOrder, obs.EstablishmentID)
		}
		counts[obs.EstablishmentID]++
	}
	establishments := make([]domain.EstablishmentStat, 0, len(estOrder))
	for _, id := range estOrder {
		establishments = append(establishments, domain.EstablishmentStat{
			EstablishmentID: id,
			Occurrences:     counts[id],
		})
	}

	category := ""
	if len(g.normalized[0].CategoryHints) > 0 {
		category = g.normalized[0].CategoryHints[0]
	}

	return domain.MasterProduct{
		Description:             representative,
		NormalizedName:          g.key,
		Unit:                    unit,
		Category:                category,
		Establishments:          establishments,
		MergedFrom:              len(g.observations),
		QualityScore:            s.qualityScore(g, len(estOrder)),
		ConsolidationConfidence: s.consolidationConfidence(g),
	}
}

// mostFrequentUnit picks the most common unit, ties broken by first
// encounter in stable iteration order.
func mostFrequentUnit(observations []domain.RawProductObservation) string {
	counts := make(map[string]int)
	var order []string
	for _, obs := range observations {
		if obs.Unit == "" {
			continue
		}
		if _, seen := counts[obs.Unit]; !seen {
			order = append(order, obs.Unit)
		}
		counts[obs.Unit]++
	}

	best := ""
	bestCount := 0
	for _, u := range order {
		if counts[u] > bestCount {
			best = u
			bestCount = counts[u]
		}
	}
	return best
}

// qualityScore = 0.4*desc + 0.3*unit + 0.3*diversity.
func (s *DedupService) qualityScore(g *descGroup, uniqueEstablishments int) float64 {
	var lengthSum int
	for _, obs := range g.observations {
		lengthSum += len(obs.Description)
	}
	avgLength := float64(lengthSum) / float64(len(g.observations))
	descScore := avgLength / descLengthTarget
	if descScore > 1 {
		descScore = 1
	}

	unitScore := unitAgreementScore
	if !unitsAgree(g.observations) {
		unitScore = unitMixedScore
	}

	diversityScore := float64(uniqueEstablishments) / diversityTarget
	if diversityScore > 1 {
		diversityScore = 1
	}

	return clamp01(qualityDescWeight*descScore + qualityUnitWeight*unitScore + qualityDiversityWeight*diversityScore)
}

// consolidationConfidence: singleton groups are certain; larger groups
// start at the base and earn bonuses for identical normalized text and
// unit agreement, capped at 1.
func (s *DedupService) consolidationConfidence(g *descGroup) float64 {
	if len(g.observations) == 1 {
		return 1.0
	}

	confidence := consolidationBase

	identical := true
	for _, nd := range g.normalized[1:] {
		if nd.Normalized != g.normalized[0].Normalized {
			identical = false
			break
		}
	}
	if identical {
		confidence += consolidationIdenticalNorm
	}

	if unitsAgree(g.observations) {
		confidence += consolidationUnitsAgree
	}

	return clamp01(confidence)
}

func unitsAgree(observations []domain.RawProductObservation) bool {
	first := ""
	for _, obs := range observations {
		if obs.Unit == "" {
			continue
		}
		if first == "" {
			first = obs.Unit
			continue
		}
		if obs.Unit != first {
			return false
		}
	}
	return true
}

func (s *DedupService) recommendations(result *ConsolidationResult, skipped int) []string {
	var recs []string
	if result.QualityMetrics.LowConfidenceGroups > 0 {
		recs = append(recs, fmt.Sprintf("review %d low-confidence groups manually",
			result.QualityMetrics.LowConfidenceGroups))
	}
	if skipped > 0 {
		recs = append(recs, fmt.Sprintf("%d descriptions could not be normalized and were skipped", skipped))
	}
	if !s.standardizeUnits {
		mixed := 0
		for _, mp := range result.MasterProducts {
			if mp.MergedFrom > 1 && mp.Unit == "" {
				mixed++
			}
		}
		if mixed > 0 {
			recs = append(recs, "enable unit standardization to reduce unit disagreement across merchants")
		}
	}
	sort.Strings(recs)
	return recs
}
