// internal/api/models.go
package api

import (
	"time"

	"github.com/restockd/restockd/internal/reorder"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type TriggerSyncRequest struct {
	Strategy      string     `json:"strategy"` // smart|full|inventory|critical|active
	ModifiedSince *time.Time `json:"modified_since,omitempty"`
	DryRun        bool       `json:"dry_run"`
}

type TriggerSyncResponse struct {
	RunID string `json:"run_id"`
}

type CleanupResponse struct {
	Cleaned int `json:"cleaned"`
}

type CreatePurchaseOrderRequest struct {
	Suggestion reorder.Suggestion `json:"suggestion" binding:"required"`
	CreatedBy  string             `json:"created_by"`
	// Push forwards the draft to the external system after persisting.
	Push bool `json:"push"`
}
