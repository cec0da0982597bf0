package domain

import "time"

// RawProductObservation is one NFCe line item as scraped. It is consumed
// once per match attempt and never persisted by the core pipeline.
type RawProductObservation struct {
	Description     string   `json:"description"`
	Unit            string   `json:"unit,omitempty"`
	UnitPrice       *float64 `json:"unitPrice,omitempty"`
	ProductCode     string   `json:"productCode,omitempty"`
	EstablishmentID string   `json:"establishmentId"`
}

// NormalizedDescription is the immutable result of running one raw
// description through the normalization pipeline.
type NormalizedDescription struct {
	Original      string   `json:"original"`
	Normalized    string   `json:"normalized"`
	Brand         string   `json:"brand,omitempty"`
	Size          string   `json:"size,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	CategoryHints []string `json:"categoryHints,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// FeatureSet holds the comparable features derived from a normalized
// description. CoreKey is a cheap signature used only as a pre-filter
// before full similarity scoring, never as the similarity criterion.
type FeatureSet struct {
	Tokens   map[string]bool
	Bigrams  map[string]bool
	Category string
	Brand    string
	Size     string
	Unit     string
	CoreKey  string
}

// Model slot identifiers reported in EmbeddingVector.ModelUsed.
const (
	ModelEnsemble  = "ensemble"
	ModelPrimary   = "primary"
	ModelSecondary = "secondary"
	ModelFallback  = "fallback"
	ModelZero      = "zero"
)

// EmbeddingVector is the ensemble embedding produced for one description.
// When every model slot is unavailable the vectors degrade to all-zero
// vectors of the engine's default dimension with confidence 0.
type EmbeddingVector struct {
	Primary    []float32
	Secondary  []float32
	Ensemble   []float32
	Confidence float64
	ModelUsed  string
}

// IsZero reports whether the vector is the degraded all-zero result.
func (e EmbeddingVector) IsZero() bool {
	return e.ModelUsed == ModelZero
}

// GenericProduct is the durable, establishment-independent product
// identity. CanonicalDescription is the first-seen description and never
// changes after creation; AlternativeDescriptions is append-only.
type GenericProduct struct {
	ID                      string    `json:"id"`
	CanonicalDescription    string    `json:"canonicalDescription"`
	AlternativeDescriptions []string  `json:"alternativeDescriptions"`
	NormalizedName          string    `json:"normalizedName"`
	Category                string    `json:"category,omitempty"`
	Brand                   string    `json:"brand,omitempty"`
	Unit                    string    `json:"unit,omitempty"`
	ConfidenceScore         float64   `json:"confidenceScore"`
	TotalOccurrences        int       `json:"totalOccurrences"`
	EstablishmentsCount     int       `json:"establishmentsCount"`
	AvgPrice                *float64  `json:"avgPrice,omitempty"`
	MinPrice                *float64  `json:"minPrice,omitempty"`
	MaxPrice                *float64  `json:"maxPrice,omitempty"`
	PriceVariance           *float64  `json:"priceVariance,omitempty"`
	Embedding               []float32 `json:"-"`
	FirstSeen               time.Time `json:"firstSeen"`
	LastSeen                time.Time `json:"lastSeen"`
}

// HasDescription reports whether the given raw description is the
// canonical description or one of the recorded alternatives.
func (g *GenericProduct) HasDescription(description string) bool {
	if g.CanonicalDescription == description {
		return true
	}
	for _, alt := range g.AlternativeDescriptions {
		if alt == description {
			return true
		}
	}
	return false
}

// EstablishmentProduct is the per-(generic product, establishment)
// rollup, created on first observation at an establishment and updated
// on every later one.
type EstablishmentProduct struct {
	GenericProductID string    `json:"genericProductId"`
	EstablishmentID  string    `json:"establishmentId"`
	LocalDescription string    `json:"localDescription"`
	ProductCode      string    `json:"productCode,omitempty"`
	Unit             string    `json:"unit,omitempty"`
	CurrentPrice     *float64  `json:"currentPrice,omitempty"`
	AvgPrice         *float64  `json:"avgPrice,omitempty"`
	MinPrice         *float64  `json:"minPrice,omitempty"`
	MaxPrice         *float64  `json:"maxPrice,omitempty"`
	OccurrenceCount  int       `json:"occurrenceCount"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
}

// Match methods reported in MatchResult.MatchMethod.
const (
	MatchMethodExact      = "exact"
	MatchMethodSimilarity = "similarity"
	MatchMethodNew        = "new"
)

// MatchResult is the outcome of one matching attempt.
type MatchResult struct {
	GenericProductID   string   `json:"genericProductId"`
	MatchedDescription string   `json:"matchedDescription"`
	SimilarityScore    float64  `json:"similarityScore"`
	ConfidenceScore    float64  `json:"confidenceScore"`
	MatchMethod        string   `json:"matchMethod"`
	MatchingTokens     []string `json:"matchingTokens,omitempty"`
	IsNewProduct       bool     `json:"isNewProduct"`
}

// SimilarityResult is the fused score for one pair of feature sets plus
// the explanation payload consumed by quality reports.
type SimilarityResult struct {
	FinalScore      float64  `json:"finalScore"`
	ConfidenceScore float64  `json:"confidenceScore"`
	LexicalScore    float64  `json:"lexicalScore"`
	SemanticScore   *float64 `json:"semanticScore,omitempty"`
	MatchingTokens  []string `json:"matchingTokens,omitempty"`
	RegionalTokens  []string `json:"regionalTokens,omitempty"`
	QuantityMatch   bool     `json:"quantityMatch"`
}

// MatchAuditEntry is one append-only record of a similarity match,
// written for offline quality review and never read back by the matcher.
type MatchAuditEntry struct {
	SourceDescription string    `json:"sourceDescription"`
	GenericProductID  string    `json:"genericProductId"`
	SimilarityScore   float64   `json:"similarityScore"`
	EstablishmentID   string    `json:"establishmentId"`
	MatchedAt         time.Time `json:"matchedAt"`
}

// EstablishmentStat is the per-establishment occurrence count inside a
// consolidated master product.
type EstablishmentStat struct {
	EstablishmentID string `json:"establishmentId"`
	Occurrences     int    `json:"occurrences"`
}

// MasterProduct is one consolidated record of the batch deduplication
// path. It is a reporting artifact, not a product identity.
type MasterProduct struct {
	Description             string              `json:"description"`
	NormalizedName          string              `json:"normalizedName"`
	Unit                    string              `json:"unit,omitempty"`
	Category                string              `json:"category,omitempty"`
	Establishments          []EstablishmentStat `json:"establishments"`
	MergedFrom              int                 `json:"mergedFrom"`
	QualityScore            float64             `json:"qualityScore"`
	ConsolidationConfidence float64             `json:"consolidationConfidence"`
}
