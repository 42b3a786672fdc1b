// Package server exposes the question-answering and moderation APIs over
// HTTP as a small fixed JSON surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/renux/dongrag/internal/admin"
	"github.com/renux/dongrag/internal/repository"
	"github.com/renux/dongrag/internal/service"
)

// Server is the HTTP API server.
type Server struct {
	ask       *service.AskService
	moderator *admin.Moderator
	logger    *slog.Logger
	http      *http.Server
}

// New creates the server listening on port.
func New(port int, ask *service.AskService, moderator *admin.Moderator, logger *slog.Logger) *Server {
	s := &Server{ask: ask, moderator: moderator, logger: logger}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Routes builds the chi router with the middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogging)
	r.Use(middleware.Recoverer)

	r.Post("/ask", s.handleAsk)
	r.Get("/health", s.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/submit", s.handleSubmit)
		r.Get("/pending", s.handlePending)
		r.Get("/items", s.handleItems)
		r.Post("/approve/{id}", s.handleApprove)
		r.Post("/reject/{id}", s.handleReject)
	})
	return r
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// detail mirrors the {"detail": "..."} error shape clients already parse.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
	Major     string `json:"major"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "요청 본문이 올바르지 않습니다.")
		return
	}
	if req.Question == "" {
		writeDetail(w, http.StatusBadRequest, "질문이 비어 있습니다.")
		return
	}

	resp, err := s.ask.Ask(r.Context(), service.AskRequest{
		Question:  req.Question,
		SessionID: req.SessionID,
		Major:     req.Major,
	})
	if err != nil {
		s.logger.Error("ask failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"datasets": s.ask.Health(),
	})
}

type submitRequest struct {
	SourceType string          `json:"source_type"`
	Data       json.RawMessage `json:"data"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "요청 본문이 올바르지 않습니다.")
		return
	}
	id, err := s.moderator.Submit(r.Context(), req.SourceType, req.Data)
	if err != nil {
		if errors.Is(err, admin.ErrBadRequest) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

// queueItem is the wire form of a moderation queue entry.
type queueItem struct {
	ID         int64           `json:"id"`
	SourceType string          `json:"source_type"`
	Data       json.RawMessage `json:"data"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
}

func toQueueItems(items []repository.PendingItem) []queueItem {
	out := make([]queueItem, len(items))
	for i, item := range items {
		out[i] = queueItem{
			ID:         item.ID,
			SourceType: item.SourceType,
			Data:       json.RawMessage(item.Payload),
			Status:     item.Status,
			CreatedAt:  item.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.moderator.Pending(r.Context())
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toQueueItems(items)})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.moderator.Items(r.Context())
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toQueueItems(items)})
}

func itemID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "잘못된 항목 id입니다.")
		return
	}
	chunkID, err := s.moderator.Approve(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "approved", "chunk_id": chunkID})
	case errors.Is(err, repository.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "항목을 찾을 수 없습니다.")
	case errors.Is(err, admin.ErrBadRequest):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("approve failed", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
	}
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "잘못된 항목 id입니다.")
		return
	}
	switch err := s.moderator.Reject(r.Context(), id); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	case errors.Is(err, repository.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "항목을 찾을 수 없습니다.")
	case errors.Is(err, admin.ErrBadRequest):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}
