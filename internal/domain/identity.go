package domain

import "strings"

// IdentityKey is the store-level identity string derived from a
// normalization result. Brand and size take part in the key so that
// distinct brands sharing residual text ("LATA") do not collide once
// the normalizer has stripped the brand from the working text.
func (n NormalizedDescription) IdentityKey() string {
	parts := make([]string, 0, 3)
	if n.Brand != "" {
		parts = append(parts, n.Brand)
	}
	if n.Normalized != "" {
		parts = append(parts, n.Normalized)
	}
	if n.Size != "" {
		parts = append(parts, n.Size+n.Unit)
	}
	return strings.Join(parts, " ")
}
