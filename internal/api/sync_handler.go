package api

import (
	"context"
	"net/http"
	"time"

	"github.com/meridianhq/mailsync/internal/sync"
	"github.com/meridianhq/mailsync/internal/webhook"
)

// syncRunTimeout bounds one externally triggered sync pass.
const syncRunTimeout = 10 * time.Minute

// SyncHandler exposes the scheduled-work entry points to the external
// scheduler: the account sync pass and the subscription renewal sweep.
type SyncHandler struct {
	orchestrator *sync.Orchestrator
	manager      *webhook.Manager
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(orchestrator *sync.Orchestrator, manager *webhook.Manager) *SyncHandler {
	return &SyncHandler{orchestrator: orchestrator, manager: manager}
}

// Run kicks off one pass over all due accounts plus the renewal sweep, then
// returns immediately. The scheduler only needs to know the trigger landed.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncRunTimeout)
		defer cancel()

		h.manager.RenewExpiring(ctx)
		h.orchestrator.ProcessDueAccounts(ctx)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
