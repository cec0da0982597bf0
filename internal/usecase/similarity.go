package usecase

import (
	"log"
	"math"
	"sort"

	"github.com/precofacil/catalog/internal/domain"
)

// Fusion weights. All weights are positive, which keeps the final score
// monotonic in every sub-signal.
const (
	weightTokenCoverageA = 0.60 // input-side token coverage matters most
	weightTokenCoverageB = 0.20
	weightTokenJaccard   = 0.20

	weightTokenScore  = 0.70
	weightBigramScore = 0.30

	weightLexical  = 0.65
	weightSemantic = 0.35

	brandAgreementBonus = 0.10
	quantityMatchBonus  = 0.10
)

// SimilarityCalculator fuses the lexical token/bigram signal with an
// optional embedding cosine signal into one bounded score.
type SimilarityCalculator struct {
	threshold float64
	rules     *RuleTable
	debug     bool
}

// NewSimilarityCalculator creates a calculator. The threshold is
// validated eagerly; values outside [0,1] are a configuration error.
func NewSimilarityCalculator(threshold float64, rules *RuleTable, debug bool) (*SimilarityCalculator, error) {
	if threshold < 0 || threshold > 1 {
		return nil, domain.ErrInvalidThreshold
	}
	return &SimilarityCalculator{threshold: threshold, rules: rules, debug: debug}, nil
}

// Threshold returns the configured acceptance threshold.
func (c *SimilarityCalculator) Threshold() float64 {
	return c.threshold
}

// IsMatch reports whether a score clears the acceptance threshold.
func (c *SimilarityCalculator) IsMatch(result domain.SimilarityResult) bool {
	return result.FinalScore >= c.threshold
}

// Score computes the fused similarity of two feature sets. Embeddings
// are optional; when either side lacks a usable vector the score is the
// lexical signal alone.
func (c *SimilarityCalculator) Score(a, b domain.FeatureSet, ea, eb *domain.EmbeddingVector) domain.SimilarityResult {
	lexical, matched := c.lexicalScore(a, b)

	result := domain.SimilarityResult{
		LexicalScore:   lexical,
		MatchingTokens: matched,
		RegionalTokens: c.regionalHits(matched),
		QuantityMatch:  quantityMatch(a, b),
	}

	final := lexical
	if usableVector(ea) && usableVector(eb) {
		cos := Cosine(ea.Ensemble, eb.Ensemble)
		semantic := clamp01((cos + 1) / 2)
		result.SemanticScore = &semantic
		final = weightLexical*lexical + weightSemantic*semantic
	}

	result.FinalScore = clamp01(final)
	result.ConfidenceScore = c.scoreConfidence(result, a, b)

	if c.debug {
		log.Printf("[SIM] lex=%.3f final=%.3f matched=%v", lexical, result.FinalScore, matched)
	}
	return result
}

// lexicalScore blends input-side coverage, candidate-side coverage and
// Jaccard over tokens with a bigram Jaccard, plus brand and quantity
// agreement bonuses. Bounded to [0,1].
func (c *SimilarityCalculator) lexicalScore(a, b domain.FeatureSet) (float64, []string) {
	if len(a.Tokens) == 0 || len(b.Tokens) == 0 {
		// Nothing textual to compare. Fully reduced descriptions still
		// agree when their brand+size signatures coincide.
		if a.CoreKey != "" && a.CoreKey == b.CoreKey && StrongCoreKey(a.CoreKey) {
			return 1.0, nil
		}
		return 0, nil
	}

	matched := intersectTokens(a.Tokens, b.Tokens)
	coverageA := float64(len(matched)) / float64(len(a.Tokens))
	coverageB := float64(len(matched)) / float64(len(b.Tokens))
	jaccard := float64(len(matched)) / float64(unionSize(a.Tokens, b.Tokens))

	tokenScore := coverageA*weightTokenCoverageA + coverageB*weightTokenCoverageB + jaccard*weightTokenJaccard

	bigramScore := tokenScore
	if len(a.Bigrams) > 0 || len(b.Bigrams) > 0 {
		shared := 0
		for bg := range a.Bigrams {
			if b.Bigrams[bg] {
				shared++
			}
		}
		union := unionSize(a.Bigrams, b.Bigrams)
		if union > 0 {
			bigramScore = float64(shared) / float64(union)
		} else {
			bigramScore = 0
		}
	}

	score := tokenScore*weightTokenScore + bigramScore*weightBigramScore

	if a.Brand != "" && a.Brand == b.Brand {
		score += brandAgreementBonus
	}
	if quantityMatch(a, b) {
		score += quantityMatchBonus
	}

	return clamp01(score), matched
}

func (c *SimilarityCalculator) regionalHits(matched []string) []string {
	var hits []string
	for _, tok := range matched {
		if c.rules.IsRegionalToken(tok) {
			hits = append(hits, tok)
		}
	}
	return hits
}

// scoreConfidence estimates how much evidence backs the score.
func (c *SimilarityCalculator) scoreConfidence(r domain.SimilarityResult, a, b domain.FeatureSet) float64 {
	conf := 0.40
	n := len(r.MatchingTokens)
	if n > 4 {
		n = 4
	}
	conf += 0.05 * float64(n)
	if r.SemanticScore != nil {
		conf += 0.20
	}
	if r.QuantityMatch {
		conf += 0.10
	}
	if a.Brand != "" && a.Brand == b.Brand {
		conf += 0.10
	}
	return clamp01(conf)
}

func quantityMatch(a, b domain.FeatureSet) bool {
	return a.Size != "" && a.Size == b.Size && a.Unit == b.Unit
}

// usableVector reports whether an embedding can contribute a semantic
// signal. The degraded-model tag is not enough on its own: a vector
// rehydrated from storage may carry all-zero values under another tag,
// and a zero vector must never move the score off the lexical signal.
func usableVector(e *domain.EmbeddingVector) bool {
	if e == nil || e.IsZero() || len(e.Ensemble) == 0 {
		return false
	}
	for _, v := range e.Ensemble {
		if v != 0 {
			return true
		}
	}
	return false
}

// SimilarityPair is one at-or-above-threshold pair from a batch
// comparison, indexed into the input slice.
type SimilarityPair struct {
	I, J   int
	Result domain.SimilarityResult
}

// BatchSimilarity scores every unordered pair of the given feature sets
// and returns the pairs at or above the threshold. No self pairs, no
// pair reported twice; output is ordered by (I, J).
func (c *SimilarityCalculator) BatchSimilarity(features []domain.FeatureSet) []SimilarityPair {
	var pairs []SimilarityPair
	for i := 0; i < len(features); i++ {
		for j := i + 1; j < len(features); j++ {
			if StrongCoreKey(features[i].CoreKey) && StrongCoreKey(features[j].CoreKey) &&
				features[i].CoreKey != features[j].CoreKey {
				continue
			}
			result := c.Score(features[i], features[j], nil, nil)
			if c.IsMatch(result) {
				pairs = append(pairs, SimilarityPair{I: i, J: j, Result: result})
			}
		}
	}
	sort.Slice(pairs, func(x, y int) bool {
		if pairs[x].I != pairs[y].I {
			return pairs[x].I < pairs[y].I
		}
		return pairs[x].J < pairs[y].J
	})
	return pairs
}

// Cosine returns the cosine similarity of two vectors. Mismatched
// dimensions are compared over the shorter prefix; a zero-norm side
// yields 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func intersectTokens(a, b map[string]bool) []string {
	var matched []string
	for t := range a {
		if b[t] {
			matched = append(matched, t)
		}
	}
	sort.Strings(matched)
	return matched
}

func unionSize(a, b map[string]bool) int {
	union := len(a)
	for t := range b {
		if !a[t] {
			union++
		}
	}
	return union
}
