package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/precofacil/catalog/config"
	httpDelivery "github.com/precofacil/catalog/internal/delivery/http"
	"github.com/precofacil/catalog/internal/domain"
	"github.com/precofacil/catalog/internal/infrastructure/cache"
	"github.com/precofacil/catalog/internal/infrastructure/embedding"
	"github.com/precofacil/catalog/internal/infrastructure/memstore"
	"github.com/precofacil/catalog/internal/infrastructure/postgres"
	"github.com/precofacil/catalog/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting PrecoFacil Catalog v1.0.0")
	log.Printf("Environment: %s", cfg.Server.Environment)
	log.Printf("Port: %s", cfg.Server.Port)
	log.Printf("Database driver: %s", cfg.Database.Driver)

	debug := cfg.Server.Environment == "development"

	// Normalization rules
	rules, err := usecase.DefaultRules()
	if err != nil {
		log.Fatalf("Failed to load normalization rules: %v", err)
	}

	// Normalization cache
	memoryCache := cache.NewMemoryCache()
	defer memoryCache.Close()
	log.Printf("Normalization cache TTL: %s", cfg.Cache.TTL)

	normalizer := usecase.NewNormalizer(rules,
		usecase.WithNormalizationCache(memoryCache, cfg.Cache.TTL),
		usecase.WithNormalizerDebug(debug),
	)

	// Catalog store
	var catalog domain.CatalogRepository
	var audit domain.AuditLog
	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		store := postgres.NewStore(db, cfg.Embedding.Dimension)
		if err := store.InitSchema(context.Background()); err != nil {
			log.Fatalf("Failed to initialize catalog schema: %v", err)
		}
		catalog, audit = store, store
		log.Printf("Catalog store: postgres")
	default:
		mem := memstore.NewCatalog()
		catalog, audit = mem, mem
		log.Printf("Catalog store: in-memory (data is not persisted)")
	}

	// Embedding engine
	engine, err := embedding.NewEngine(embedding.Config{
		Primary:          remoteModelFactory("primary", cfg.Embedding.PrimaryURL, cfg.Embedding.PrimaryModel, cfg),
		Secondary:        remoteModelFactory("secondary", cfg.Embedding.SecondaryURL, cfg.Embedding.SecondaryModel, cfg),
		Fallback:         localModelFactory(cfg.Embedding.Dimension),
		DefaultDimension: cfg.Embedding.Dimension,
		EnableEnsemble:   cfg.Embedding.EnableEnsemble,
		CacheSize:        cfg.Cache.Entries,
		Debug:            debug,
	})
	if err != nil {
		log.Fatalf("Failed to create embedding engine: %v", err)
	}
	log.Printf("Embedding: dimension=%d, ensemble=%v", cfg.Embedding.Dimension, cfg.Embedding.EnableEnsemble)

	// Matching and consolidation services
	similarity, err := usecase.NewSimilarityCalculator(cfg.Matching.Threshold, rules, cfg.Matching.Debug || debug)
	if err != nil {
		log.Fatalf("Failed to create similarity calculator: %v", err)
	}
	log.Printf("Matching: threshold=%.2f, candidates=%d", cfg.Matching.Threshold, cfg.Matching.MaxCandidates)

	matcher := usecase.NewProductMatcher(catalog, normalizer, similarity, engine, audit, usecase.MatcherConfig{
		MaxCandidates:      cfg.Matching.MaxCandidates,
		EnableDebugLogging: cfg.Matching.Debug || debug,
	})

	dedup, err := usecase.NewDedupService(normalizer, rules, usecase.DedupConfig{
		SimilarityThreshold: cfg.Dedup.Threshold,
		StandardizeUnits:    cfg.Dedup.StandardizeUnits,
		EnableDebugLogging:  debug,
	})
	if err != nil {
		log.Fatalf("Failed to create dedup service: %v", err)
	}

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(matcher, dedup, catalog)

	// Setup router
	router := httpDelivery.SetupRouter(cfg, handler)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Printf("Server listening on %s", addr)

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// remoteModelFactory wires one HTTP model slot; a blank URL leaves the
// slot unconfigured so the engine degrades to the next model.
func remoteModelFactory(name, baseURL, model string, cfg *config.Config) embedding.ModelFactory {
	if baseURL == "" {
		log.Printf("Embedding %s model not configured", name)
		return nil
	}
	return func() (domain.EmbeddingModel, error) {
		return embedding.NewHTTPModel(embedding.HTTPModelConfig{
			Name:              name + ":" + model,
			BaseURL:           baseURL,
			Model:             model,
			Dimension:         cfg.Embedding.Dimension,
			Timeout:           cfg.Embedding.Timeout,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		})
	}
}

func localModelFactory(dimension int) embedding.ModelFactory {
	return func() (domain.EmbeddingModel, error) {
		return embedding.NewHashingModel(dimension), nil
	}
}

func init() {
	// Set log flags for better debugging
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.SetOutput(os.Stdout)
}
