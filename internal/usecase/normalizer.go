package usecase

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/precofacil/catalog/internal/domain"
)

// Compiled patterns shared by the normalization steps.
var (
	// Characters outside the whitelist (letters, digits, space, comma,
	// period) are replaced with a space. Hyphens and slashes become
	// separators so "COCA-COLA" tokenizes as two words.
	nonWhitelistRegex = regexp.MustCompile(`[^\p{L}\p{N} ,.]`)
	multiSpaceRegex   = regexp.MustCompile(`\s+`)

	stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// sizePatterns is the ordered list of size/unit extractors. The first
// pattern that matches wins and its span is removed from the working
// text before brand extraction. Order: liquid, weight, count, combo.
var sizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d+[.,]?\d*)\s*(ML|LITROS|LITRO|LTS|LT|L)\b`),
	regexp.MustCompile(`\b(\d+[.,]?\d*)\s*(KG|KILOS|KILO|QUILOS|QUILO|GRAMAS|GRAMA|GRS|GR|MG|G)\b`),
	regexp.MustCompile(`\b(\d+)\s*(UNIDADES|UNIDADE|UNID|UND|UN|PCS|PC|CT|DZ)\b`),
	regexp.MustCompile(`\b(\d+)\s*X\s*(\d+[.,]?\d*)\b`),
}

// comboPatternIndex marks the "N x size" pattern, whose capture layout
// differs from the single-magnitude patterns.
const comboPatternIndex = 3

// Confidence scoring weights for normalization results.
const (
	confNonEmpty       = 0.30
	confBrand          = 0.20
	confBrandFromSet   = 0.10
	confSize           = 0.15
	confPerCategory    = 0.10
	maxScoredCats      = 2
	overReductionRatio = 0.3
	overReductionPen   = 0.2
	underReductionRat  = 0.8
	underReductionPen  = 0.1
)

// Normalizer turns one raw retail description into its canonical form
// plus extracted brand/size/unit/category hints. It is deterministic for
// a given rule table; the optional cache is pure memoization.
type Normalizer struct {
	rules    *RuleTable
	cache    domain.CacheRepository
	cacheTTL time.Duration
	debug    bool
}

// NormalizerOption configures optional Normalizer behavior.
type NormalizerOption func(*Normalizer)

// WithNormalizationCache enables read-through caching of results keyed
// by the raw input string.
func WithNormalizationCache(cache domain.CacheRepository, ttl time.Duration) NormalizerOption {
	return func(n *Normalizer) {
		n.cache = cache
		n.cacheTTL = ttl
	}
}

// WithNormalizerDebug enables per-step debug logging.
func WithNormalizerDebug(enabled bool) NormalizerOption {
	return func(n *Normalizer) {
		n.debug = enabled
	}
}

// NewNormalizer creates a normalizer over the given rule table.
func NewNormalizer(rules *RuleTable, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{rules: rules}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize runs the full normalization pipeline on one description.
// Empty or whitespace-only input returns a zero-confidence empty result.
// Normalizing the output of a previous pass is a no-op on the
// normalized text.
func (n *Normalizer) Normalize(ctx context.Context, text string) domain.NormalizedDescription {
	if strings.TrimSpace(text) == "" {
		return domain.NormalizedDescription{Original: text}
	}

	if n.cache != nil {
		if cached, err := n.cache.Get(ctx, normCacheKey(text)); err == nil {
			if nd, ok := cached.(domain.NormalizedDescription); ok {
				return nd
			}
		}
	}

	nd := n.normalize(text)

	if n.cache != nil {
		_ = n.cache.Set(ctx, normCacheKey(text), nd, n.cacheTTL)
	}
	return nd
}

func (n *Normalizer) normalize(text string) domain.NormalizedDescription {
	original := text

	// Step 1: case fold, whitelist, collapse whitespace.
	working := strings.ToUpper(text)
	working = nonWhitelistRegex.ReplaceAllString(working, " ")
	working = multiSpaceRegex.ReplaceAllString(working, " ")
	working = strings.TrimSpace(working)

	// Step 2: strip diacritics.
	if stripped, _, err := transform.String(stripAccents, working); err == nil {
		working = stripped
	}

	// Step 3: size/unit extraction; the matched span leaves the text.
	size, unit, working := n.extractSize(working)

	// Step 4: brand extraction. Fixed-set brands are removed from the
	// working text; heuristic brands are recorded as a hint only, so a
	// second normalization pass leaves the text unchanged.
	brand, fromSet, working := n.extractBrand(working)

	// Step 5: expand every abbreviation, whole words only.
	for _, key := range n.rules.abbrevOrdered {
		working = n.rules.abbrevRegexps[key].ReplaceAllString(working, n.rules.Abbreviations[key])
	}

	// Step 6: drop stop/noise words and one-character tokens.
	var kept []string
	for _, tok := range strings.Fields(working) {
		if len(tok) <= 1 || n.rules.IsStopword(tok) {
			continue
		}
		kept = append(kept, tok)
	}

	// Step 7: final join and trim.
	normalized := strings.TrimSpace(strings.Join(kept, " "))

	// Step 8: category hints from the original lower-cased text.
	hints := n.categoryHints(original)

	// Step 9: confidence.
	confidence := scoreConfidence(original, normalized, brand, fromSet, size, len(hints))

	if n.debug {
		log.Printf("[NORM] %q -> %q (brand=%q size=%q%s conf=%.2f)",
			original, normalized, brand, size, unit, confidence)
	}

	return domain.NormalizedDescription{
		Original:      original,
		Normalized:    normalized,
		Brand:         brand,
		Size:          size,
		Unit:          unit,
		CategoryHints: hints,
		Confidence:    confidence,
	}
}

// extractSize applies the ordered size patterns; the first match wins.
func (n *Normalizer) extractSize(text string) (size, unit, remaining string) {
	for i, re := range sizePatterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		m := re.FindStringSubmatch(text)
		if i == comboPatternIndex {
			// "12 X 350" keeps both magnitudes; no unit in the pattern.
			size = m[1] + "X" + strings.ReplaceAll(m[2], ",", ".")
		} else {
			size = strings.ReplaceAll(m[1], ",", ".")
			unit = n.rules.StandardizeUnit(m[2])
		}
		remaining = strings.TrimSpace(multiSpaceRegex.ReplaceAllString(text[:loc[0]]+" "+text[loc[1]:], " "))
		return size, unit, remaining
	}
	return "", "", text
}

// extractBrand checks fixed-set membership first, then falls back to a
// positional heuristic over the leading three words.
func (n *Normalizer) extractBrand(text string) (brand string, fromSet bool, remaining string) {
	for _, b := range n.rules.brandsOrdered {
		re := n.rules.brandRegexps[b]
		if loc := re.FindStringIndex(text); loc != nil {
			remaining = strings.TrimSpace(multiSpaceRegex.ReplaceAllString(text[:loc[0]]+" "+text[loc[1]:], " "))
			return strings.ToUpper(b), true, remaining
		}
	}

	words := strings.Fields(text)
	limit := 3
	if len(words) < limit {
		limit = len(words)
	}
	for i := 0; i < limit; i++ {
		w := words[i]
		if len(w) < 3 || n.rules.IsStopword(w) || isNumericToken(w) {
			continue
		}
		return w, false, text
	}
	return "", false, text
}

func (n *Normalizer) categoryHints(original string) []string {
	lower := strings.ToLower(original)
	var hints []string
	for _, name := range n.rules.categoryNames {
		for _, keyword := range n.rules.Categories[name] {
			if strings.Contains(lower, keyword) {
				hints = append(hints, name)
				break
			}
		}
	}
	return hints
}

func scoreConfidence(original, normalized, brand string, brandFromSet bool, size string, categoryCount int) float64 {
	score := 0.0
	if normalized != "" {
		score += confNonEmpty
	}
	if brand != "" {
		score += confBrand
		if brandFromSet {
			score += confBrandFromSet
		}
	}
	if size != "" {
		score += confSize
	}
	cats := categoryCount
	if cats > maxScoredCats {
		cats = maxScoredCats
	}
	score += confPerCategory * float64(cats)

	if len(original) > 0 {
		ratio := float64(len(normalized)) / float64(len(original))
		if ratio < overReductionRatio {
			score -= overReductionPen
		} else if ratio > underReductionRat {
			score -= underReductionPen
		}
	}

	return clamp01(score)
}

func isNumericToken(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normCacheKey(raw string) string {
	return "norm:" + raw
}
