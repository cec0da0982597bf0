package usecase

import (
	"context"
	"testing"

	"github.com/precofacil/catalog/internal/domain"
)

func TestExtractFeatures(t *testing.T) {
	t.Run("builds token and bigram sets", func(t *testing.T) {
		fs := ExtractFeatures(domain.NormalizedDescription{
			Normalized: "ARROZ BRANCO TIPO",
		})

		for _, tok := range []string{"ARROZ", "BRANCO", "TIPO"} {
			if !fs.Tokens[tok] {
				t.Errorf("Tokens missing %q", tok)
			}
		}
		for _, bg := range []string{"ARROZ BRANCO", "BRANCO TIPO"} {
			if !fs.Bigrams[bg] {
				t.Errorf("Bigrams missing %q", bg)
			}
		}
		if len(fs.Bigrams) != 2 {
			t.Errorf("len(Bigrams) = %d, want 2", len(fs.Bigrams))
		}
	})

	t.Run("deduplicates repeated tokens", func(t *testing.T) {
		fs := ExtractFeatures(domain.NormalizedDescription{
			Normalized: "LEITE LEITE INTEGRAL",
		})
		if len(fs.Tokens) != 2 {
			t.Errorf("len(Tokens) = %d, want 2", len(fs.Tokens))
		}
	})

	t.Run("carries brand, size, unit and first category hint", func(t *testing.T) {
		fs := ExtractFeatures(domain.NormalizedDescription{
			Normalized:    "LATA",
			Brand:         "COCA COLA",
			Size:          "350",
			Unit:          "ML",
			CategoryHints: []string{"bebidas", "mercearia"},
		})
		if fs.Brand != "COCA COLA" || fs.Size != "350" || fs.Unit != "ML" {
			t.Errorf("Brand/Size/Unit = %q/%q/%q", fs.Brand, fs.Size, fs.Unit)
		}
		if fs.Category != "bebidas" {
			t.Errorf("Category = %q, want bebidas", fs.Category)
		}
	})
}

func TestCoreKey(t *testing.T) {
	t.Run("brand plus size yields a strong key", func(t *testing.T) {
		fs := ExtractFeatures(domain.NormalizedDescription{
			Normalized: "LATA",
			Brand:      "COCA COLA",
			Size:       "350",
			Unit:       "ML",
		})
		if !StrongCoreKey(fs.CoreKey) {
			t.Errorf("StrongCoreKey(%q) = false, want true", fs.CoreKey)
		}
	})

	t.Run("token fallback key is not strong", func(t *testing.T) {
		fs := ExtractFeatures(domain.NormalizedDescription{
			Normalized: "ARROZ BRANCO",
		})
		if StrongCoreKey(fs.CoreKey) {
			t.Errorf("StrongCoreKey(%q) = true, want false", fs.CoreKey)
		}
	})

	t.Run("fallback key ignores order of leading tokens", func(t *testing.T) {
		a := ExtractFeatures(domain.NormalizedDescription{Normalized: "ARROZ BRANCO FINO"})
		b := ExtractFeatures(domain.NormalizedDescription{Normalized: "BRANCO FINO ARROZ"})
		if a.CoreKey != b.CoreKey {
			t.Errorf("core keys differ: %q vs %q", a.CoreKey, b.CoreKey)
		}
	})

	t.Run("different brands with the same residual text get distinct strong keys", func(t *testing.T) {
		coca := ExtractFeatures(domain.NormalizedDescription{
			Normalized: "LATA", Brand: "COCA COLA", Size: "350", Unit: "ML",
		})
		pepsi := ExtractFeatures(domain.NormalizedDescription{
			Normalized: "LATA", Brand: "PEPSI", Size: "350", Unit: "ML",
		})
		if coca.CoreKey == pepsi.CoreKey {
			t.Errorf("core keys collide across brands: %q", coca.CoreKey)
		}
	})
}

func TestFeaturesFromNormalizerOutput(t *testing.T) {
	n := newTestNormalizer(t)
	ctx := context.Background()

	a := ExtractFeatures(n.Normalize(ctx, "CERVEJA SKOL LATA 350ML"))
	b := ExtractFeatures(n.Normalize(ctx, "CERV SKOL LT 350 ML"))

	if a.Brand != b.Brand {
		t.Errorf("brands differ: %q vs %q", a.Brand, b.Brand)
	}
	if a.Size != b.Size || a.Unit != b.Unit {
		t.Errorf("size/unit differ: %s%s vs %s%s", a.Size, a.Unit, b.Size, b.Unit)
	}
}
