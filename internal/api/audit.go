package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/audit"
)

// handleListAuditLogs returns provisioning and sync history, newest first.
//
// Query parameters: action, entity_type (mqtt_credential, mqtt_acl_rule,
// mqtt_sync), entity_id, since (RFC 3339), limit (default 50, max 200),
// offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	filter, err := auditFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err, "request_id", requestID(r))
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func auditFilter(q url.Values) (audit.Filter, error) {
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, errors.New("since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return audit.Filter{}, fmt.Errorf("%s must be a non-negative integer", p.name)
		}
		*p.dst = n
	}
	return filter, nil
}
