package api

import (
	"net/http"

	"github.com/nerrad567/tracker-broker-core/internal/brokersync"
	"github.com/nerrad567/tracker-broker-core/internal/credential"
)

type syncStatusResponse struct {
	*credential.SyncStatus
	State brokersync.State `json:"state"`
}

// handleGetSyncStatus returns the pending-change counter, the outcome of
// the last sync and the phase of any sync in progress.
func (s *Server) handleGetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.credentials.GetSyncStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "failed to fetch sync status")
		return
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{SyncStatus: status, State: s.syncer.State()})
}

// handleSync runs a sync and waits for it. The status is 200 when the
// files were written, 500 otherwise; the body is the sync result either way.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.logger.Warn("sync requested over api failed", "error", err, "request_id", requestID(r))
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
