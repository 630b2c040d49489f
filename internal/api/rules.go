package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tracker-broker-core/internal/credential"
)

type createRuleRequest struct {
	DeviceID     string                `json:"device_id"`
	TopicPattern string                `json:"topic_pattern"`
	Permission   credential.Permission `json:"permission"`
}

// handleListRules returns the access rules of one device.
//
// Query parameters:
//   - device_id: required
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeBadRequest(w, "device_id query parameter is required")
		return
	}

	rules, err := s.credentials.ListRules(r.Context(), deviceID)
	if err != nil {
		s.writeServiceError(w, err, "failed to list ACL rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleCreateRule adds an access rule to a device's credential.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.TopicPattern == "" || req.Permission == "" {
		writeBadRequest(w, "device_id, topic_pattern, and permission are required")
		return
	}

	rule, err := s.credentials.AddRule(r.Context(), req.DeviceID, req.TopicPattern, req.Permission)
	if err != nil {
		s.writeServiceError(w, err, "failed to create ACL rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateRule changes a rule's pattern and/or permission.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	var update credential.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rule, err := s.credentials.UpdateRule(r.Context(), id, update)
	if err != nil {
		s.writeServiceError(w, err, "failed to update ACL rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteRule removes an access rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	deleted, err := s.credentials.DeleteRule(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "failed to delete ACL rule")
		return
	}
	if !deleted {
		writeNotFound(w, "ACL rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid ACL rule ID")
		return 0, false
	}
	return id, true
}
