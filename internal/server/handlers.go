package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/guard"
	"github.com/jbellec/veilguard/internal/history"
	"github.com/jbellec/veilguard/internal/profile"
	"github.com/jbellec/veilguard/internal/websocket"
)

type maskRequest struct {
	GuardType string `json:"guard_type"`
	Text      string `json:"text"`
}

type maskResponse struct {
	GuardType  string             `json:"guard_type"`
	Original   string             `json:"original"`
	MaskedText string             `json:"masked_text"`
	Tokens     []guard.TokenEntry `json:"tokens"`
	Warnings   []guard.Warning    `json:"warnings,omitempty"`
}

type finalizeRequest struct {
	GuardType  string             `json:"guard_type"`
	MaskedText string             `json:"masked_text"`
	Tokens     []guard.TokenEntry `json:"tokens"`
}

type processRequest struct {
	GuardType string `json:"guard_type"`
	Text      string `json:"text"`
}

type processResponse struct {
	GuardType  string                `json:"guard_type"`
	Original   string                `json:"original"`
	MaskedText string                `json:"masked_text"`
	Warnings   []guard.Warning       `json:"warnings,omitempty"`
	Result     *guard.FinalizeResult `json:"result"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
	Unknown []string `json:"unknown,omitempty"`
}

// writeJSON encodes a response with HTML escaping off so minted tokens
// keep their literal angle brackets on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, http.StatusBadRequest, "empty request body")
		} else {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		}
		return false
	}
	return true
}

// handleMask runs one masking transaction and returns the masked text
// with its token map. The caller owns the map from here on.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		s.writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}
	if req.GuardType == "" {
		s.writeError(w, r, http.StatusBadRequest, "guard_type is required")
		return
	}

	start := time.Now()
	doc, err := s.service.Mask(r.Context(), req.Text, req.GuardType)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.broadcastMasking(r.Context(), doc, time.Since(start))

	s.writeJSON(w, http.StatusOK, maskResponse{
		GuardType:  doc.GuardType,
		Original:   doc.Original,
		MaskedText: doc.Masked,
		Tokens:     doc.Tokens.Entries(),
		Warnings:   doc.Warnings,
	})
}

// handleFinalize verifies token integrity, forwards to the language
// model, and restores the original values in its answer.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.MaskedText == "" {
		s.writeError(w, r, http.StatusBadRequest, "masked_text is required")
		return
	}

	tokens := guard.TokenMapFromEntries(req.Tokens)
	result, err := s.service.Finalize(r.Context(), req.GuardType, req.MaskedText, tokens)
	if err != nil {
		var integrityErr *guard.IntegrityError
		if errors.As(err, &integrityErr) {
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeIntegrityRejection,
				Timestamp: time.Now(),
				RequestID: getRequestID(r.Context()),
				Data: websocket.IntegrityRejectionEvent{
					RequestID:     getRequestID(r.Context()),
					GuardType:     req.GuardType,
					MissingTokens: len(integrityErr.Missing),
					UnknownTokens: len(integrityErr.Unknown),
				},
			})
			s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:   "token integrity check failed",
				Missing: integrityErr.Missing,
				Unknown: integrityErr.Unknown,
			})
			return
		}
		s.respondServiceError(w, r, err)
		return
	}

	s.recordHistory(r.Context(), req.GuardType, req.MaskedText, result)
	s.writeJSON(w, http.StatusOK, result)
}

// handleProcess is the one-shot path: mask, forward, restore, without
// the caller ever seeing the token map.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		s.writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}
	if req.GuardType == "" {
		s.writeError(w, r, http.StatusBadRequest, "guard_type is required")
		return
	}

	start := time.Now()
	out, err := s.service.Process(r.Context(), req.Text, req.GuardType)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.broadcastMasking(r.Context(), out.Document, time.Since(start))
	s.recordHistory(r.Context(), req.GuardType, out.Document.Masked, out.Final)

	s.writeJSON(w, http.StatusOK, processResponse{
		GuardType:  out.Document.GuardType,
		Original:   out.Document.Original,
		MaskedText: out.Document.Masked,
		Warnings:   out.Document.Warnings,
		Result:     out.Final,
	})
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unknownType *guard.UnknownGuardTypeError
	var upstream *guard.UpstreamError
	switch {
	case errors.As(err, &unknownType):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &upstream):
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Upstream call failed", zap.Error(err))
		s.writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Request failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// broadcastMasking publishes a counters-only summary of a masking
// transaction. Values never travel on this channel.
func (s *Server) broadcastMasking(ctx context.Context, doc *guard.MaskedDocument, elapsed time.Duration) {
	if !s.config.WebSocket.Enabled {
		return
	}
	fields := make(map[string]bool)
	for _, tok := range doc.Tokens.Tokens() {
		if name, ok := guard.TokenFieldName(tok); ok {
			fields[name] = true
		}
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeMaskingSummary,
		Timestamp: time.Now(),
		RequestID: getRequestID(ctx),
		Data: websocket.MaskingSummaryEvent{
			RequestID:    getRequestID(ctx),
			GuardType:    doc.GuardType,
			MaskedTokens: doc.Tokens.Len(),
			Fields:       names,
			Warnings:     len(doc.Warnings),
			ProcessingMS: float64(elapsed.Microseconds()) / 1000,
		},
	})
}

// recordHistory persists the masked text and usage counters. Failures
// are logged and swallowed: history must never fail a transaction.
func (s *Server) recordHistory(ctx context.Context, guardType, maskedText string, result *guard.FinalizeResult) {
	mode := "disabled"
	if s.config.LLM.Enabled {
		mode = "enabled"
	}
	rec := &history.Record{
		GuardType:        guardType,
		MaskedText:       maskedText,
		MaskedTokenCount: result.MaskedTokenCount,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Model:            result.Model,
		LLMMode:          mode,
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.WithRequestID(getRequestID(ctx)).Error("Failed to record history", zap.Error(err))
	}
}

type profileSummary struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	FieldCount  int    `json:"field_count"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	summaries := make([]profileSummary, 0, len(snap.Profiles))
	for _, p := range snap.Profiles {
		summaries = append(summaries, profileSummary{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Description: p.Description,
			FieldCount:  len(p.Fields),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles":  summaries,
		"loaded_at": snap.LoadedAt,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["guard_type"]
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	p, ok := snap.Profiles[name]
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown guard type %q", name))
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReloadProfiles(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reload(r.Context()); err != nil {
		s.logger.Error("Profile reload failed", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, fmt.Sprintf("reload failed: %v", err))
		return
	}
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "reloaded",
		"profiles":  len(snap.Profiles),
		"patterns":  len(snap.Patterns),
		"loaded_at": snap.LoadedAt,
	})
}

func (s *Server) handleExample(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["guard_type"]
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	p, ok := snap.Profiles[name]
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown guard type %q", name))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"guard_type": name,
		"text":       profile.ExampleText(p),
	})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	records, err := s.reader.List(r.Context(), r.URL.Query().Get("guard_type"), limit)
	if err != nil {
		s.logger.Error("Failed to list history", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to list history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to aggregate history", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to aggregate history")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	profiles := 0
	if err == nil {
		profiles = len(snap.Profiles)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":            "veilguard",
		"version":         "0.1.0",
		"uptime":          time.Since(s.started).Truncate(time.Second).String(),
		"llm_enabled":     s.config.LLM.Enabled,
		"history_enabled": s.reader != nil,
		"profiles":        profiles,
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}
