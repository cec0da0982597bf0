package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/precofacil/catalog/internal/domain"
)

func newTestDedup(t *testing.T, standardizeUnits bool) *DedupService {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}
	service, err := NewDedupService(NewNormalizer(rules), rules, DedupConfig{
		SimilarityThreshold: 0.8,
		StandardizeUnits:    standardizeUnits,
	})
	if err != nil {
		t.Fatalf("NewDedupService() error = %v", err)
	}
	return service
}

func obs(description, unit, establishment string) domain.RawProductObservation {
	return domain.RawProductObservation{
		Description:     description,
		Unit:            unit,
		EstablishmentID: establishment,
	}
}

func TestNewDedupService(t *testing.T) {
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}

	t.Run("rejects thresholds outside the unit interval", func(t *testing.T) {
		_, err := NewDedupService(NewNormalizer(rules), rules, DedupConfig{SimilarityThreshold: 1.5})
		if !errors.Is(err, domain.ErrInvalidThreshold) {
			t.Errorf("error = %v, want ErrInvalidThreshold", err)
		}
	})
}

func TestBuildMasterTable(t *testing.T) {
	ctx := context.Background()

	t.Run("merges identical descriptions across establishments", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("ARROZ BRANCO TIPO 1 5KG", "UN", "est-1"),
			obs("ARROZ BRANCO TIPO 1 5KG", "Un", "est-2"),
			obs("ARROZ BRANCO TIPO 1 5KG", "UN", "est-3"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}

		if len(result.MasterProducts) != 1 {
			t.Fatalf("MasterProducts = %d, want 1", len(result.MasterProducts))
		}
		master := result.MasterProducts[0]
		if master.MergedFrom != 3 {
			t.Errorf("MergedFrom = %d, want 3", master.MergedFrom)
		}
		// Unit variants collapse under standardization, so the group is
		// fully consistent.
		if master.Unit != "UN" {
			t.Errorf("Unit = %q, want UN", master.Unit)
		}
		if master.ConsolidationConfidence != 1.0 {
			t.Errorf("ConsolidationConfidence = %f, want 1.0", master.ConsolidationConfidence)
		}
		if len(master.Establishments) != 3 {
			t.Errorf("Establishments = %d, want 3", len(master.Establishments))
		}
	})

	t.Run("merges spelling variants sharing one identity", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("REFRI COCA COLA 2L", "UN", "est-1"),
			obs("Refrigerante Coca-Cola 2 Litros", "UN", "est-2"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}

		if len(result.MasterProducts) != 1 {
			t.Fatalf("MasterProducts = %d, want 1", len(result.MasterProducts))
		}
		master := result.MasterProducts[0]
		if master.MergedFrom != 2 {
			t.Errorf("MergedFrom = %d, want 2", master.MergedFrom)
		}
		// Representative is the longest raw description.
		if master.Description != "Refrigerante Coca-Cola 2 Litros" {
			t.Errorf("Description = %q, want the longest variant", master.Description)
		}
		if result.Statistics.DuplicatesMerged != 1 {
			t.Errorf("DuplicatesMerged = %d, want 1", result.Statistics.DuplicatesMerged)
		}

		// Both raw spellings map to the shared master name.
		for _, desc := range []string{"REFRI COCA COLA 2L", "Refrigerante Coca-Cola 2 Litros"} {
			if result.ProductMapping[desc] != master.NormalizedName {
				t.Errorf("ProductMapping[%q] = %q, want %q", desc, result.ProductMapping[desc], master.NormalizedName)
			}
		}
	})

	t.Run("keeps distinct products apart", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("COCA COLA LATA 350ML", "UN", "est-1"),
			obs("PEPSI LATA 350ML", "UN", "est-1"),
			obs("SABONETE DOVE 90G", "UN", "est-1"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}
		if len(result.MasterProducts) != 3 {
			t.Errorf("MasterProducts = %d, want 3", len(result.MasterProducts))
		}
		if result.Statistics.SingletonGroups != 3 {
			t.Errorf("SingletonGroups = %d, want 3", result.Statistics.SingletonGroups)
		}
	})

	t.Run("singleton groups are fully confident", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("MACARRAO ESPAGUETE 500G", "UN", "est-1"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}
		if got := result.MasterProducts[0].ConsolidationConfidence; got != 1.0 {
			t.Errorf("ConsolidationConfidence = %f, want 1.0", got)
		}
	})

	t.Run("unnormalizable descriptions are skipped and reported", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("CAFE UNIAO 500G", "UN", "est-1"),
			obs("   ", "UN", "est-1"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}
		if len(result.MasterProducts) != 1 {
			t.Errorf("MasterProducts = %d, want 1", len(result.MasterProducts))
		}
		found := false
		for _, rec := range result.Recommendations {
			if rec == "1 descriptions could not be normalized and were skipped" {
				found = true
			}
		}
		if !found {
			t.Errorf("Recommendations = %v, want skip notice", result.Recommendations)
		}
	})

	t.Run("mixed units lower quality without standardization", func(t *testing.T) {
		service := newTestDedup(t, false)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("ACUCAR CRISTAL 2KG", "UN", "est-1"),
			obs("ACUCAR CRISTAL 2KG", "PCT", "est-2"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}
		master := result.MasterProducts[0]
		// 0.5 base + 0.3 identical normalized text, no unit agreement.
		if math.Abs(master.ConsolidationConfidence-0.8) > 1e-9 {
			t.Errorf("ConsolidationConfidence = %f, want 0.8", master.ConsolidationConfidence)
		}
	})

	t.Run("aggregates quality metrics", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, []domain.RawProductObservation{
			obs("LEITE ITALAC INTEGRAL 1L", "UN", "est-1"),
			obs("LEITE ITALAC INTEGRAL 1L", "UN", "est-2"),
			obs("PAO FRANCES KG", "KG", "est-1"),
		})
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}

		q := result.QualityMetrics
		if q.AvgQualityScore <= 0 || q.AvgQualityScore > 1 {
			t.Errorf("AvgQualityScore = %f, want within (0,1]", q.AvgQualityScore)
		}
		if q.AvgConsolidationConfidence <= 0 || q.AvgConsolidationConfidence > 1 {
			t.Errorf("AvgConsolidationConfidence = %f, want within (0,1]", q.AvgConsolidationConfidence)
		}
		if result.Statistics.TotalProducts != 3 {
			t.Errorf("TotalProducts = %d, want 3", result.Statistics.TotalProducts)
		}
		if result.Statistics.MasterProducts != 2 {
			t.Errorf("MasterProducts stat = %d, want 2", result.Statistics.MasterProducts)
		}
	})

	t.Run("empty input yields an empty result", func(t *testing.T) {
		service := newTestDedup(t, true)

		result, err := service.BuildMasterTable(ctx, nil)
		if err != nil {
			t.Fatalf("BuildMasterTable() error = %v", err)
		}
		if len(result.MasterProducts) != 0 {
			t.Errorf("MasterProducts = %d, want 0", len(result.MasterProducts))
		}
		if result.Statistics.TotalProducts != 0 {
			t.Errorf("TotalProducts = %d, want 0", result.Statistics.TotalProducts)
		}
	})
}

func TestMostFrequentUnit(t *testing.T) {
	tests := []struct {
		name  string
		units []string
		want  string
	}{
		{"majority wins", []string{"UN", "UN", "KG"}, "UN"},
		{"ties break by first encounter", []string{"KG", "UN"}, "KG"},
		{"blank units ignored", []string{"", "", "L"}, "L"},
		{"all blank", []string{"", ""}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observations := make([]domain.RawProductObservation, len(tt.units))
			for i, u := range tt.units {
				observations[i].Unit = u
			}
			if got := mostFrequentUnit(observations); got != tt.want {
				t.Errorf("mostFrequentUnit() = %q, want %q", got, tt.want)
			}
		})
	}
}
