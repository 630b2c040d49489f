package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tracker-broker-core/internal/credential"
)

// credentialResponse is a credential as returned by the API. Password is
// only set right after creation or regeneration.
type credentialResponse struct {
	*credential.Credential
	DeviceName string `json:"device_name,omitempty"`
	Password   string `json:"mqtt_password,omitempty"`
}

type createCredentialRequest struct {
	DeviceID     string `json:"device_id"`
	Username     string `json:"mqtt_username"`
	Password     string `json:"mqtt_password"`
	AutoGenerate bool   `json:"auto_generate"`
	NotifyOwner  bool   `json:"notify_owner"`
}

type updateCredentialRequest struct {
	Enabled            *bool `json:"enabled"`
	RegeneratePassword bool  `json:"regenerate_password"`
}

type sendCredentialsRequest struct {
	Password string `json:"mqtt_password"`
}

// handleListCredentials returns all credentials.
//
// Query parameters:
//   - owner_id: only credentials of devices owned by this user
func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentials.ListCredentials(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to list credentials")
		return
	}

	out := make([]credentialResponse, 0, len(creds))
	for i := range creds {
		out = append(out, credentialResponse{
			Credential: &creds[i],
			DeviceName: s.deviceName(r, creds[i].DeviceID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": out, "count": len(out)})
}

// handleCreateCredential provisions a credential for a device and returns
// the plaintext password once.
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}

	res, err := s.credentials.CreateCredential(r.Context(), req.DeviceID, credential.ProvisionRequest{
		Username:     req.Username,
		Password:     req.Password,
		AutoGenerate: req.AutoGenerate,
		NotifyOwner:  req.NotifyOwner,
	})
	if err != nil {
		s.writeServiceError(w, err, "failed to create credentials")
		return
	}

	writeJSON(w, http.StatusCreated, credentialResponse{
		Credential: res.Credential,
		DeviceName: s.deviceName(r, req.DeviceID),
		Password:   res.PlaintextPassword,
	})
}

// handleGetCredential returns the credential of one device.
func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := s.credentials.GetCredential(r.Context(), chi.URLParam(r, "device_id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to get credentials")
		return
	}
	writeJSON(w, http.StatusOK, credentialResponse{
		Credential: cred,
		DeviceName: s.deviceName(r, cred.DeviceID),
	})
}

// handleUpdateCredential enables, disables or regenerates the password of
// a credential. Both changes are applied together or not at all. A
// regenerated password is returned once.
func (s *Server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req updateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil && !req.RegeneratePassword {
		writeBadRequest(w, "nothing to update: set enabled or regenerate_password")
		return
	}

	res, err := s.credentials.UpdateCredential(r.Context(), deviceID, credential.CredentialChange{
		Enabled:            req.Enabled,
		RegeneratePassword: req.RegeneratePassword,
	})
	if err != nil {
		s.writeServiceError(w, err, "failed to update credentials")
		return
	}

	writeJSON(w, http.StatusOK, credentialResponse{
		Credential: res.Credential,
		DeviceName: s.deviceName(r, deviceID),
		Password:   res.PlaintextPassword,
	})
}

// handleDeleteCredential removes a credential and its rules.
func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.credentials.DeleteCredential(r.Context(), chi.URLParam(r, "device_id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to delete credentials")
		return
	}
	if !deleted {
		writeNotFound(w, "credentials not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleSendCredentials mails a device's credentials to its owner. The
// caller supplies the plaintext password it received at provisioning.
func (s *Server) handleSendCredentials(w http.ResponseWriter, r *http.Request) {
	var req sendCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.credentials.SendCredentials(r.Context(), chi.URLParam(r, "device_id"), req.Password)
	if err != nil {
		s.writeServiceError(w, err, "failed to send credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// deviceName looks up a display name, returning "" when unknown.
func (s *Server) deviceName(r *http.Request, deviceID string) string {
	if s.devices == nil {
		return ""
	}
	name, err := s.devices.DeviceName(r.Context(), deviceID)
	if err != nil {
		s.logger.Debug("device name lookup failed", "device_id", deviceID, "error", err)
		return ""
	}
	return name
}
