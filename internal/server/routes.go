package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := s.engine.Queue.Depth()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.engine.Queue.PendingValidations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":             s.version,
		"uptime":              time.Since(s.started).Seconds(),
		"queue_depth":         depth,
		"paused":              s.engine.Queue.Paused(),
		"current_task":        s.engine.Queue.CurrentTaskID(),
		"pending_validations": len(pending),
	})
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Persona        string `json:"persona"`
		Human          string `json:"human"`
		HumanMessage   string `json:"human_message"`
		PersonaMessage string `json:"persona_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Persona == "" || req.Human == "" {
		writeError(w, http.StatusBadRequest, "persona and human required")
		return
	}

	if err := s.engine.OnExchange(r.Context(), req.Persona, req.Human, req.HumanMessage, req.PersonaMessage); err != nil {
		s.log.Error("exchange ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.engine.Queue.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Queue.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleListValidations(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.Queue.PendingValidations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]map[string]any, 0, len(pending))
	for _, t := range pending {
		v := t.Validation
		items = append(items, map[string]any{
			"id":         t.ID,
			"owner":      v.Owner.String(),
			"type":       v.Type,
			"name":       v.Name,
			"origin":     v.Origin,
			"rationale":  v.Rationale,
			"created_at": t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"validations": items})
}

func (s *Server) handleResolveValidation(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := s.engine.ResolveValidation(r.Context(), taskID, req.Accept); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := "rejected"
	if req.Accept {
		status = "accepted"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "id": taskID})
}
