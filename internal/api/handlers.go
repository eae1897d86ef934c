package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/flow"
	"github.com/Quackstro/opencore-sub001/internal/models"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// WorkflowSummary describes a registered workflow in listings.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Plugin      string `json:"plugin"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// InstanceSummary describes an active instance. Captured values are never exposed, only
// the names of the variables set so far.
type InstanceSummary struct {
	InstanceID     string               `json:"instance_id"`
	WorkflowID     string               `json:"workflow_id"`
	UserID         string               `json:"user_id"`
	CurrentStep    string               `json:"current_step"`
	History        []string             `json:"history,omitempty"`
	Variables      []string             `json:"variables,omitempty"`
	Surface        models.SurfaceTarget `json:"surface"`
	CreatedAt      time.Time            `json:"created_at"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
}

func summarizeInstance(st *models.WorkflowInstanceState) InstanceSummary {
	out := InstanceSummary{
		InstanceID:     st.InstanceID,
		WorkflowID:     st.WorkflowID,
		UserID:         st.UserID,
		CurrentStep:    st.CurrentStep,
		History:        st.History,
		Surface:        st.Surface,
		CreatedAt:      st.CreatedAt,
		LastActivityAt: st.LastActivityAt,
	}
	for k := range st.Variables {
		out.Variables = append(out.Variables, k)
	}
	sort.Strings(out.Variables)
	if t, ok := st.ExpiresAt(); ok {
		out.ExpiresAt = &t
	}
	return out
}

// StartRequest is the body of POST /workflows/{id}/start.
type StartRequest struct {
	SurfaceID     string            `json:"surfaceId"`
	SurfaceUserID string            `json:"surfaceUserId"`
	ChannelID     string            `json:"channelId,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, Success(map[string]int{"workflows": len(s.engine.ListWorkflows())}))
}

func (s *Server) listWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	defs := s.engine.ListWorkflows()
	out := make([]WorkflowSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, WorkflowSummary{ID: d.ID, Plugin: d.Plugin, Version: d.Version, Description: d.Description, Steps: len(d.Steps)})
	}
	writeJSONResponse(w, http.StatusOK, Success(out))
}

func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, ok := s.engine.GetWorkflowDefinition(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, Error("workflow not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(def))
}

func (s *Server) startWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.startWorkflowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid JSON format"))
		return
	}
	if req.SurfaceID == "" || req.SurfaceUserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, Error("surfaceId and surfaceUserId are required"))
		return
	}
	target := models.SurfaceTarget{SurfaceID: req.SurfaceID, SurfaceUserID: req.SurfaceUserID, ChannelID: req.ChannelID}

	st, err := s.engine.StartWorkflow(r.Context(), id, target, req.Data)
	switch {
	case errors.Is(err, flow.ErrWorkflowNotFound):
		writeJSONResponse(w, http.StatusNotFound, Error("workflow not found"))
	case errors.Is(err, flow.ErrAdapterNotFound):
		writeJSONResponse(w, http.StatusBadRequest, Error("no adapter registered for surface "+req.SurfaceID))
	case err != nil:
		slog.Error("Server.startWorkflowHandler: start failed", "workflow_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to start workflow"))
	default:
		slog.Info("Server.startWorkflowHandler: workflow started", "workflow_id", id, "user_id", st.UserID)
		writeJSONResponse(w, http.StatusCreated, SuccessWithMessage("Workflow started", summarizeInstance(st)))
	}
}

func (s *Server) getInstanceHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetActiveWorkflow(r.Context(), r.PathValue("userID"))
	if err != nil {
		slog.Error("Server.getInstanceHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to load instance"))
		return
	}
	if st == nil {
		writeJSONResponse(w, http.StatusNotFound, Error("no active workflow"))
		return
	}
	writeJSONResponse(w, http.StatusOK, Success(summarizeInstance(st)))
}

func (s *Server) cancelInstanceHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.CancelWorkflow(r.Context(), r.PathValue("userID"), r.URL.Query().Get("workflow"))
	if err != nil {
		slog.Error("Server.cancelInstanceHandler: cancel failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to cancel workflow"))
		return
	}
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, Error("no cancellable workflow"))
		return
	}
	writeJSONResponse(w, http.StatusOK, SuccessWithMessage("Workflow cancelled", nil))
}

// emptyTwiML acknowledges a Twilio webhook without replying through TwiML; replies go out
// through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validator.Valid(s.publicURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		slog.Warn("Server.twilioWebhookHandler: signature rejected", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := s.dispatcher.Handle(r.Context(), s.twilio, r.PostForm); err != nil {
		slog.Error("Server.twilioWebhookHandler: dispatch failed", "error", err)
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, emptyTwiML)
}
