package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/precofacil/catalog/internal/domain"
	"github.com/precofacil/catalog/internal/usecase"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	matcher *usecase.ProductMatcher
	dedup   *usecase.DedupService
	catalog domain.CatalogRepository
}

// NewHandler creates a new HTTP handler
func NewHandler(matcher *usecase.ProductMatcher, dedup *usecase.DedupService, catalog domain.CatalogRepository) *Handler {
	return &Handler{matcher: matcher, dedup: dedup, catalog: catalog}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "precofacil-catalog",
		"version": "1.0.0",
	})
}

type matchRequest struct {
	Description     string   `json:"description" binding:"required"`
	Unit            string   `json:"unit"`
	UnitPrice       *float64 `json:"unitPrice"`
	ProductCode     string   `json:"productCode"`
	EstablishmentID string   `json:"establishmentId" binding:"required"`
}

func (r matchRequest) observation() domain.RawProductObservation {
	return domain.RawProductObservation{
		Description:     r.Description,
		Unit:            r.Unit,
		UnitPrice:       r.UnitPrice,
		ProductCode:     r.ProductCode,
		EstablishmentID: r.EstablishmentID,
	}
}

// MatchProduct resolves one scraped line item to a generic product,
// creating a new catalog entry when nothing matches.
func (h *Handler) MatchProduct(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description and establishmentId are required"})
		return
	}

	result, err := h.matcher.FindOrCreate(c.Request.Context(), req.observation())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "product matching failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

type batchMatchRequest struct {
	Products []matchRequest `json:"products" binding:"required"`
}

type batchItemFailure struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

type batchMatchResponse struct {
	Results  []*domain.MatchResult `json:"results"`
	Failures []batchItemFailure    `json:"failures,omitempty"`
	Summary  batchMatchSummary     `json:"summary"`
}

type batchMatchSummary struct {
	Total         int `json:"total"`
	Matched       int `json:"matched"`
	Created       int `json:"created"`
	LowConfidence int `json:"lowConfidence"`
	Failed        int `json:"failed"`
}

// lowConfidenceCutoff flags matches worth human review in the batch
// summary. Mirrors the consolidation report cutoff.
const lowConfidenceCutoff = 0.7

// MatchBatch resolves a list of line items in order. Individual
// failures are reported per item and never abort the batch.
func (h *Handler) MatchBatch(c *gin.Context) {
	var req batchMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "products array is required"})
		return
	}
	if len(req.Products) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "products array must not be empty"})
		return
	}

	resp := batchMatchResponse{Results: make([]*domain.MatchResult, 0, len(req.Products))}
	resp.Summary.Total = len(req.Products)

	for i, item := range req.Products {
		result, err := h.matcher.FindOrCreate(c.Request.Context(), item.observation())
		if err != nil {
			resp.Failures = append(resp.Failures, batchItemFailure{
				Index:       i,
				Description: item.Description,
				Error:       err.Error(),
			})
			resp.Summary.Failed++
			continue
		}
		resp.Results = append(resp.Results, result)
		if result.IsNewProduct {
			resp.Summary.Created++
		} else {
			resp.Summary.Matched++
		}
		if result.ConfidenceScore < lowConfidenceCutoff {
			resp.Summary.LowConfidence++
		}
	}

	c.JSON(http.StatusOK, resp)
}

type consolidateRequest struct {
	Products []matchRequest `json:"products"`
}

// Consolidate runs batch deduplication over the posted products, or
// over the stored raw snapshot when the body names none.
func (h *Handler) Consolidate(c *gin.Context) {
	var req consolidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	observations := make([]domain.RawProductObservation, 0, len(req.Products))
	for _, item := range req.Products {
		observations = append(observations, item.observation())
	}
	if len(observations) == 0 {
		stored, err := h.catalog.ListRawProducts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "loading stored products failed"})
			return
		}
		observations = stored
	}

	result, err := h.dedup.BuildMasterTable(c.Request.Context(), observations)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "consolidation failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListProducts returns catalog products ordered by occurrence count.
func (h *Handler) ListProducts(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	products, err := h.catalog.TopByOccurrences(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing products failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
	})
}
