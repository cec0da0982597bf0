package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/precofacil/catalog/config"
	"github.com/precofacil/catalog/internal/domain"
	"github.com/precofacil/catalog/internal/infrastructure/postgres"
	"github.com/precofacil/catalog/internal/usecase"
)

// consolidate runs the batch deduplication pass over a raw product
// snapshot and prints the master table as JSON. The snapshot comes from
// a JSON file (-input) or from the configured Postgres store.
func main() {
	inputPath := flag.String("input", "", "path to a JSON array of raw products (reads the database when empty)")
	outputPath := flag.String("output", "", "path for the consolidation report (stdout when empty)")
	threshold := flag.Float64("threshold", 0.80, "similarity threshold for the consolidation pass")
	standardizeUnits := flag.Bool("standardize-units", true, "standardize unit variants before grouping")
	debug := flag.Bool("debug", false, "enable per-group debug logging")
	flag.Parse()

	ctx := context.Background()

	observations, err := loadObservations(ctx, *inputPath)
	if err != nil {
		log.Fatalf("Failed to load products: %v", err)
	}
	log.Printf("Loaded %d raw products", len(observations))

	rules, err := usecase.DefaultRules()
	if err != nil {
		log.Fatalf("Failed to load normalization rules: %v", err)
	}
	normalizer := usecase.NewNormalizer(rules, usecase.WithNormalizerDebug(*debug))

	dedup, err := usecase.NewDedupService(normalizer, rules, usecase.DedupConfig{
		SimilarityThreshold: *threshold,
		StandardizeUnits:    *standardizeUnits,
		EnableDebugLogging:  *debug,
	})
	if err != nil {
		log.Fatalf("Failed to create dedup service: %v", err)
	}

	result, err := dedup.BuildMasterTable(ctx, observations)
	if err != nil {
		log.Fatalf("Consolidation failed: %v", err)
	}
	log.Printf("Consolidated %d products into %d master records",
		result.Statistics.TotalProducts, result.Statistics.MasterProducts)

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
}

func loadObservations(ctx context.Context, inputPath string) ([]domain.RawProductObservation, error) {
	if inputPath != "" {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, err
		}
		var observations []domain.RawProductObservation
		if err := json.Unmarshal(data, &observations); err != nil {
			return nil, err
		}
		return observations, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("No -input file given and database driver is %q; consolidation needs postgres or a snapshot file", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	store := postgres.NewStore(db, cfg.Embedding.Dimension)
	return store.ListRawProducts(ctx)
}

func init() {
	log.SetFlags(log.Ldate | log.Ltime)
	log.SetOutput(os.Stderr)
}
