package usecase

import (
	"sort"
	"strings"

	"github.com/precofacil/catalog/internal/domain"
)

// coreKeyLeadingTokens bounds the sorted-token fallback signature.
const coreKeyLeadingTokens = 3

// ExtractFeatures derives the comparable feature set from a
// normalization result. Tokens and bigrams are sets, so order and
// duplicates in the source text are irrelevant to comparison.
func ExtractFeatures(nd domain.NormalizedDescription) domain.FeatureSet {
	tokens := strings.Fields(nd.Normalized)

	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	bigrams := make(map[string]bool)
	for i := 0; i+1 < len(tokens); i++ {
		bigrams[tokens[i]+" "+tokens[i+1]] = true
	}

	category := ""
	if len(nd.CategoryHints) > 0 {
		category = nd.CategoryHints[0]
	}

	return domain.FeatureSet{
		Tokens:   tokenSet,
		Bigrams:  bigrams,
		Category: category,
		Brand:    nd.Brand,
		Size:     nd.Size,
		Unit:     nd.Unit,
		CoreKey:  coreKey(nd, tokens),
	}
}

// coreKey builds the cheap pre-filter signature: brand plus size when
// both are known, otherwise the sorted leading tokens. It must never be
// the sole similarity criterion.
func coreKey(nd domain.NormalizedDescription, tokens []string) string {
	if nd.Brand != "" && nd.Size != "" {
		return "B:" + nd.Brand + "|" + nd.Size + nd.Unit
	}

	limit := coreKeyLeadingTokens
	if len(tokens) < limit {
		limit = len(tokens)
	}
	leading := append([]string(nil), tokens[:limit]...)
	sort.Strings(leading)
	return "T:" + strings.Join(leading, "|")
}

// StrongCoreKey reports whether the signature carries brand and size,
// making a mismatch meaningful enough to prune a candidate pair.
func StrongCoreKey(key string) bool {
	return strings.HasPrefix(key, "B:")
}
