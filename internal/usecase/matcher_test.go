package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/precofacil/catalog/internal/domain"
	"github.com/precofacil/catalog/internal/infrastructure/memstore"
)

func newTestMatcher(t *testing.T, catalog *memstore.Catalog, threshold float64) *ProductMatcher {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}
	normalizer := NewNormalizer(rules)
	similarity, err := NewSimilarityCalculator(threshold, rules, false)
	if err != nil {
		t.Fatalf("NewSimilarityCalculator() error = %v", err)
	}
	return NewProductMatcher(catalog, normalizer, similarity, nil, catalog, MatcherConfig{})
}

func price(v float64) *float64 { return &v }

func TestFindOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty description and establishment", func(t *testing.T) {
		matcher := newTestMatcher(t, memstore.NewCatalog(), 0.75)

		_, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{EstablishmentID: "est-1"})
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest for empty description", err)
		}

		_, err = matcher.FindOrCreate(ctx, domain.RawProductObservation{Description: "ARROZ 5KG"})
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest for empty establishment", err)
		}
	})

	t.Run("creates a new product on first sight", func(t *testing.T) {
		matcher := newTestMatcher(t, memstore.NewCatalog(), 0.75)

		result, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "CERVEJA SKOL LATA 350ML",
			EstablishmentID: "est-1",
		})
		if err != nil {
			t.Fatalf("FindOrCreate() error = %v", err)
		}
		if !result.IsNewProduct {
			t.Error("IsNewProduct = false, want true")
		}
		if result.MatchMethod != domain.MatchMethodNew {
			t.Errorf("MatchMethod = %s, want %s", result.MatchMethod, domain.MatchMethodNew)
		}
		if result.GenericProductID == "" {
			t.Error("GenericProductID is empty")
		}
	})

	t.Run("repeated descriptions resolve to the same product exactly", func(t *testing.T) {
		matcher := newTestMatcher(t, memstore.NewCatalog(), 0.75)
		obs := domain.RawProductObservation{
			Description:     "ARROZ TIO JOAO 5KG",
			EstablishmentID: "est-1",
		}

		first, err := matcher.FindOrCreate(ctx, obs)
		if err != nil {
			t.Fatalf("first FindOrCreate() error = %v", err)
		}
		second, err := matcher.FindOrCreate(ctx, obs)
		if err != nil {
			t.Fatalf("second FindOrCreate() error = %v", err)
		}

		if second.GenericProductID != first.GenericProductID {
			t.Errorf("ids differ: %s vs %s", first.GenericProductID, second.GenericProductID)
		}
		if second.MatchMethod != domain.MatchMethodExact {
			t.Errorf("MatchMethod = %s, want %s", second.MatchMethod, domain.MatchMethodExact)
		}
		if second.SimilarityScore != 1.0 || second.ConfidenceScore != 1.0 {
			t.Errorf("scores = %f/%f, want 1.0/1.0", second.SimilarityScore, second.ConfidenceScore)
		}
	})

	t.Run("similar variant matches and records the alternative description", func(t *testing.T) {
		catalog := memstore.NewCatalog()
		matcher := newTestMatcher(t, catalog, 0.75)

		first, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "CERVEJA SKOL LATA 350ML",
			EstablishmentID: "est-1",
		})
		if err != nil {
			t.Fatalf("create error = %v", err)
		}

		variant, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "CERV SKOL LATA 350ML",
			EstablishmentID: "est-2",
		})
		if err != nil {
			t.Fatalf("variant error = %v", err)
		}
		if variant.IsNewProduct {
			t.Fatal("variant created a new product, want similarity match")
		}
		if variant.GenericProductID != first.GenericProductID {
			t.Errorf("ids differ: %s vs %s", first.GenericProductID, variant.GenericProductID)
		}
		if variant.MatchMethod != domain.MatchMethodSimilarity {
			t.Errorf("MatchMethod = %s, want %s", variant.MatchMethod, domain.MatchMethodSimilarity)
		}

		// The variant string now resolves exactly.
		again, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "CERV SKOL LATA 350ML",
			EstablishmentID: "est-3",
		})
		if err != nil {
			t.Fatalf("repeat variant error = %v", err)
		}
		if again.MatchMethod != domain.MatchMethodExact {
			t.Errorf("MatchMethod = %s, want %s after alternative recorded", again.MatchMethod, domain.MatchMethodExact)
		}

		// And the audit log holds exactly the one similarity match.
		if entries := catalog.AuditEntries(); len(entries) != 1 {
			t.Errorf("audit entries = %d, want 1", len(entries))
		}
	})

	t.Run("distinct products stay distinct", func(t *testing.T) {
		matcher := newTestMatcher(t, memstore.NewCatalog(), 0.75)

		a, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "COCA COLA LATA 350ML",
			EstablishmentID: "est-1",
		})
		if err != nil {
			t.Fatalf("first error = %v", err)
		}
		b, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "SABONETE DOVE 90G",
			EstablishmentID: "est-1",
		})
		if err != nil {
			t.Fatalf("second error = %v", err)
		}
		if a.GenericProductID == b.GenericProductID {
			t.Error("unrelated products resolved to the same id")
		}
		if !b.IsNewProduct {
			t.Error("second product IsNewProduct = false, want true")
		}
	})
}

func TestRunningStatistics(t *testing.T) {
	ctx := context.Background()

	t.Run("incremental price mean, min, max and variance", func(t *testing.T) {
		catalog := memstore.NewCatalog()
		matcher := newTestMatcher(t, catalog, 0.75)

		var id string
		for _, p := range []float64{10, 20, 30} {
			result, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
				Description:     "FEIJAO CARIOCA 1KG",
				UnitPrice:       price(p),
				EstablishmentID: "est-1",
			})
			if err != nil {
				t.Fatalf("FindOrCreate() error = %v", err)
			}
			id = result.GenericProductID
		}

		products, err := catalog.TopByOccurrences(ctx, 10)
		if err != nil {
			t.Fatalf("TopByOccurrences() error = %v", err)
		}
		if len(products) != 1 {
			t.Fatalf("len(products) = %d, want 1", len(products))
		}
		p := products[0]
		if p.ID != id {
			t.Fatalf("product id = %s, want %s", p.ID, id)
		}

		if p.TotalOccurrences != 3 {
			t.Errorf("TotalOccurrences = %d, want 3", p.TotalOccurrences)
		}
		if p.AvgPrice == nil || *p.AvgPrice != 20 {
			t.Errorf("AvgPrice = %v, want 20", p.AvgPrice)
		}
		if p.MinPrice == nil || *p.MinPrice != 10 {
			t.Errorf("MinPrice = %v, want 10", p.MinPrice)
		}
		if p.MaxPrice == nil || *p.MaxPrice != 30 {
			t.Errorf("MaxPrice = %v, want 30", p.MaxPrice)
		}
		if p.PriceVariance == nil || *p.PriceVariance != 200 {
			t.Errorf("PriceVariance = %v, want 200", p.PriceVariance)
		}
	})

	t.Run("counts establishments once each", func(t *testing.T) {
		catalog := memstore.NewCatalog()
		matcher := newTestMatcher(t, catalog, 0.75)

		for _, est := range []string{"est-1", "est-2", "est-2", "est-3"} {
			if _, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
				Description:     "LEITE ITALAC INTEGRAL 1L",
				EstablishmentID: est,
			}); err != nil {
				t.Fatalf("FindOrCreate() error = %v", err)
			}
		}

		products, err := catalog.TopByOccurrences(ctx, 10)
		if err != nil {
			t.Fatalf("TopByOccurrences() error = %v", err)
		}
		if len(products) != 1 {
			t.Fatalf("len(products) = %d, want 1", len(products))
		}
		if products[0].EstablishmentsCount != 3 {
			t.Errorf("EstablishmentsCount = %d, want 3", products[0].EstablishmentsCount)
		}
		if products[0].TotalOccurrences != 4 {
			t.Errorf("TotalOccurrences = %d, want 4", products[0].TotalOccurrences)
		}
	})

	t.Run("maintains the per-establishment rollup", func(t *testing.T) {
		catalog := memstore.NewCatalog()
		matcher := newTestMatcher(t, catalog, 0.75)

		var id string
		for _, p := range []float64{4.50, 5.50} {
			result, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
				Description:     "CAFE UNIAO 500G",
				Unit:            "UN",
				UnitPrice:       price(p),
				EstablishmentID: "est-1",
			})
			if err != nil {
				t.Fatalf("FindOrCreate() error = %v", err)
			}
			id = result.GenericProductID
		}

		ep, err := catalog.GetEstablishmentProduct(ctx, id, "est-1")
		if err != nil {
			t.Fatalf("GetEstablishmentProduct() error = %v", err)
		}
		if ep.OccurrenceCount != 2 {
			t.Errorf("OccurrenceCount = %d, want 2", ep.OccurrenceCount)
		}
		if ep.CurrentPrice == nil || *ep.CurrentPrice != 5.50 {
			t.Errorf("CurrentPrice = %v, want 5.50", ep.CurrentPrice)
		}
		if ep.AvgPrice == nil || *ep.AvgPrice != 5.00 {
			t.Errorf("AvgPrice = %v, want 5.00", ep.AvgPrice)
		}
	})

	t.Run("products without prices keep nil aggregates", func(t *testing.T) {
		catalog := memstore.NewCatalog()
		matcher := newTestMatcher(t, catalog, 0.75)

		for i := 0; i < 2; i++ {
			if _, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
				Description:     "ALFACE CRESPA UN",
				EstablishmentID: "est-1",
			}); err != nil {
				t.Fatalf("FindOrCreate() error = %v", err)
			}
		}

		products, _ := catalog.TopByOccurrences(ctx, 10)
		if len(products) != 1 {
			t.Fatalf("len(products) = %d, want 1", len(products))
		}
		if products[0].AvgPrice != nil || products[0].PriceVariance != nil {
			t.Errorf("price aggregates = %v/%v, want nil", products[0].AvgPrice, products[0].PriceVariance)
		}
	})
}

func TestCreateRace(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate insert re-resolves to the winner", func(t *testing.T) {
		catalog := memstore.NewCatalog()
		matcher := newTestMatcher(t, catalog, 0.75)

		// Occupy the normalized identity with a product whose canonical
		// description shares nothing lexically, so the exact and
		// similarity paths both miss and the insert collides on the
		// unique normalized name.
		rules, err := DefaultRules()
		if err != nil {
			t.Fatalf("DefaultRules() error = %v", err)
		}
		identity := NewNormalizer(rules).Normalize(ctx, "REFRI COCA COLA 2L").IdentityKey()
		winner := &domain.GenericProduct{
			ID:                   "00000000-0000-0000-0000-000000000001",
			CanonicalDescription: "PRODUTO ANTIGO",
			NormalizedName:       identity,
			ConfidenceScore:      0.9,
			TotalOccurrences:     1,
			EstablishmentsCount:  1,
		}
		if err := catalog.Insert(ctx, winner); err != nil {
			t.Fatalf("seeding catalog: %v", err)
		}

		result, err := matcher.FindOrCreate(ctx, domain.RawProductObservation{
			Description:     "REFRI COCA COLA 2L",
			EstablishmentID: "est-2",
		})
		if err != nil {
			t.Fatalf("FindOrCreate() error = %v", err)
		}

		if result.IsNewProduct {
			t.Error("IsNewProduct = true, want false after duplicate re-resolution")
		}
		if result.GenericProductID != winner.ID {
			t.Errorf("id = %s, want seeded winner %s", result.GenericProductID, winner.ID)
		}
		if result.MatchMethod != domain.MatchMethodExact {
			t.Errorf("MatchMethod = %s, want %s", result.MatchMethod, domain.MatchMethodExact)
		}
	})
}

func TestApplyPrice(t *testing.T) {
	t.Run("folds observations into the incremental mean", func(t *testing.T) {
		var avg, minP, maxP *float64

		applyPrice(&avg, &minP, &maxP, 1, 10)
		applyPrice(&avg, &minP, &maxP, 2, 20)
		applyPrice(&avg, &minP, &maxP, 3, 30)

		if *avg != 20 {
			t.Errorf("avg = %f, want 20", *avg)
		}
		if *minP != 10 || *maxP != 30 {
			t.Errorf("min/max = %f/%f, want 10/30", *minP, *maxP)
		}
	})
}

func TestPriceVariance(t *testing.T) {
	t.Run("percent spread over the minimum", func(t *testing.T) {
		minP, maxP := 10.0, 30.0
		v := priceVariance(&minP, &maxP)
		if v == nil || *v != 200 {
			t.Errorf("priceVariance = %v, want 200", v)
		}
	})

	t.Run("nil when the minimum is zero", func(t *testing.T) {
		minP, maxP := 0.0, 5.0
		if v := priceVariance(&minP, &maxP); v != nil {
			t.Errorf("priceVariance = %v, want nil", v)
		}
	})

	t.Run("nil when aggregates are missing", func(t *testing.T) {
		if v := priceVariance(nil, nil); v != nil {
			t.Errorf("priceVariance = %v, want nil", v)
		}
	})
}
