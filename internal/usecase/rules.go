package usecase

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules/rules.yaml
var defaultRulesYAML []byte

// RuleTable holds the normalization rule data. The tables live in a
// versioned YAML resource so they can be extended and unit-tested
// without touching control flow.
type RuleTable struct {
	Version        int                 `yaml:"version"`
	Abbreviations  map[string]string   `yaml:"abbreviations"`
	Brands         []string            `yaml:"brands"`
	Stopwords      []string            `yaml:"stopwords"`
	RegionalTokens []string            `yaml:"regional_tokens"`
	Categories     map[string][]string `yaml:"categories"`
	Units          map[string]string   `yaml:"units"`

	// compiled lookups, built once in compile()
	stopSet       map[string]bool
	regionalSet   map[string]bool
	brandsOrdered []string
	brandRegexps  map[string]*regexp.Regexp
	abbrevOrdered []string
	abbrevRegexps map[string]*regexp.Regexp
	categoryNames []string
}

// LoadRules parses and compiles a rule table from YAML data.
func LoadRules(data []byte) (*RuleTable, error) {
	var rt RuleTable
	if err := yaml.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}
	if rt.Version < 1 {
		return nil, fmt.Errorf("rule table missing version")
	}
	if err := rt.compile(); err != nil {
		return nil, err
	}
	return &rt, nil
}

// DefaultRules loads the rule table embedded in the binary.
func DefaultRules() (*RuleTable, error) {
	return LoadRules(defaultRulesYAML)
}

func (rt *RuleTable) compile() error {
	rt.stopSet = make(map[string]bool, len(rt.Stopwords))
	for _, w := range rt.Stopwords {
		rt.stopSet[strings.ToUpper(w)] = true
	}

	rt.regionalSet = make(map[string]bool, len(rt.RegionalTokens))
	for _, w := range rt.RegionalTokens {
		rt.regionalSet[strings.ToUpper(w)] = true
	}

	// Longer brand entries first so "COCA COLA" wins over "COCA".
	rt.brandsOrdered = append([]string(nil), rt.Brands...)
	sort.SliceStable(rt.brandsOrdered, func(i, j int) bool {
		return len(rt.brandsOrdered[i]) > len(rt.brandsOrdered[j])
	})
	rt.brandRegexps = make(map[string]*regexp.Regexp, len(rt.brandsOrdered))
	for _, b := range rt.brandsOrdered {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToUpper(b)) + `\b`)
		if err != nil {
			return fmt.Errorf("compiling brand pattern %q: %w", b, err)
		}
		rt.brandRegexps[b] = re
	}

	// Abbreviations are applied in sorted-key order. The net result does
	// not depend on order because expansions are disjoint, but a fixed
	// order keeps the pass deterministic.
	rt.abbrevOrdered = make([]string, 0, len(rt.Abbreviations))
	for k := range rt.Abbreviations {
		rt.abbrevOrdered = append(rt.abbrevOrdered, k)
	}
	sort.Strings(rt.abbrevOrdered)
	rt.abbrevRegexps = make(map[string]*regexp.Regexp, len(rt.abbrevOrdered))
	for _, k := range rt.abbrevOrdered {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToUpper(k)) + `\b`)
		if err != nil {
			return fmt.Errorf("compiling abbreviation pattern %q: %w", k, err)
		}
		rt.abbrevRegexps[k] = re
	}

	rt.categoryNames = make([]string, 0, len(rt.Categories))
	for name := range rt.Categories {
		rt.categoryNames = append(rt.categoryNames, name)
	}
	sort.Strings(rt.categoryNames)

	return nil
}

// IsStopword reports whether the upper-cased token is in the noise set.
func (rt *RuleTable) IsStopword(token string) bool {
	return rt.stopSet[token]
}

// IsRegionalToken reports whether the token is a Brazilian retail marker.
func (rt *RuleTable) IsRegionalToken(token string) bool {
	return rt.regionalSet[token]
}

// StandardizeUnit maps a unit variant to its canonical form. Unknown
// units are returned upper-cased and trimmed.
func (rt *RuleTable) StandardizeUnit(unit string) string {
	u := strings.ToUpper(strings.TrimSpace(unit))
	if u == "" {
		return ""
	}
	if canonical, ok := rt.Units[u]; ok {
		return canonical
	}
	return u
}
