package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/restockd/restockd/internal/cache"
	"github.com/restockd/restockd/internal/db"
	"github.com/restockd/restockd/internal/extapi"
	"github.com/restockd/restockd/internal/reorder"
	"github.com/restockd/restockd/internal/syncer"
)

const suggestionsCacheKey = "reorder:suggestions"

func (s *Server) triggerSync(c *gin.Context) {
	var req TriggerSyncRequest
	// an empty body means "smart sync, defaults"
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "InvalidRequest", Message: "malformed body", Details: err.Error()})
		return
	}

	strategy, err := syncer.ParseStrategy(req.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "InvalidRequest", Message: err.Error()})
		return
	}

	runID, err := s.manager.Trigger(syncer.Options{
		Strategy:      strategy,
		ModifiedSince: req.ModifiedSince,
		DryRun:        req.DryRun,
	})
	if err != nil {
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, ErrorResponse{Code: "AlreadyRunning", Message: "a sync run is already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "InternalError", Message: "cannot start sync", Details: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, TriggerSyncResponse{RunID: runID})
}

func (s *Server) syncStatus(c *gin.Context) {
	info, err := s.tracker.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DatabaseError", Message: "cannot read sync status", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) cleanupStuck(c *gin.Context) {
	cleaned, err := s.tracker.CleanupStuck(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DatabaseError", Message: "cleanup failed", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Cleaned: cleaned})
}

func (s *Server) limiterStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.limiter.Stats())
}

func (s *Server) reorderSuggestions(c *gin.Context) {
	ctx := c.Request.Context()

	if s.cache != nil {
		var cached []reorder.Suggestion
		if err := cache.GetJSON(ctx, s.cache, suggestionsCacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	suggestions, err := s.aggregator.GenerateSuggestions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DatabaseError", Message: "cannot generate suggestions", Details: err.Error()})
		return
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, suggestionsCacheKey, suggestions, s.cacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("suggestion cache write failed")
		}
	}

	c.JSON(http.StatusOK, suggestions)
}

func (s *Server) createPurchaseOrder(c *gin.Context) {
	var req CreatePurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "InvalidRequest", Message: "malformed body", Details: err.Error()})
		return
	}
	if len(req.Suggestion.Items) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "ValidationError", Message: "suggestion has no items"})
		return
	}

	ctx := c.Request.Context()
	po, err := s.aggregator.CreatePurchaseOrder(ctx, req.Suggestion, req.CreatedBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DatabaseError", Message: "cannot create purchase order", Details: err.Error()})
		return
	}

	// a fresh draft invalidates the cached suggestion list
	if s.cache != nil {
		_ = s.cache.Delete(ctx, suggestionsCacheKey)
	}

	if req.Push && s.client != nil {
		if err := s.client.PushPurchaseOrder(ctx, orderPayload(po)); err != nil {
			// the draft exists locally either way; surface the push failure
			s.log.Warn().Err(err).Str("po_number", po.PONumber).Msg("external push failed")
			c.JSON(http.StatusCreated, gin.H{"purchase_order": po, "push_error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"purchase_order": po})
}

func orderPayload(po *db.PurchaseOrder) extapi.OrderPayload {
	payload := extapi.OrderPayload{
		PONumber:   po.PONumber,
		VendorID:   po.VendorID,
		VendorName: po.VendorName,
	}
	for _, line := range po.Lines {
		payload.Lines = append(payload.Lines, extapi.OrderLinePayload{
			SKU:      line.SKU,
			Quantity: line.Quantity,
			UnitCost: line.UnitCost.String(),
		})
	}
	return payload
}
