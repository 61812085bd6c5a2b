// Chat HTTP handlers.
//
// This file exposes the conversational REST surface:
//   - POST   /api/chat                       (one blocking turn)
//   - POST   /api/chat/stream                (one streaming turn, SSE)
//   - GET    /api/chat/history               (ordered session history)
//   - GET    /api/chat/sessions              (per-owner session summaries)
//   - DELETE /api/chat/history               (bulk delete by session/owner)
//   - DELETE /api/chat/sessions/:session_id  (same, session id in the path)
//
// Handlers are transport-thin: they validate input, normalize attachment
// descriptors (unknown fields are dropped by struct decoding), call the
// orchestrator, and translate results into HTTP responses. The streaming
// handler owns the SSE framing: content events in fragment-arrival order,
// then exactly one terminal event: done on success, error on failure.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-law-agent/internal/cache"
	"github.com/tbourn/go-law-agent/internal/domain"
	"github.com/tbourn/go-law-agent/internal/relay"
	"github.com/tbourn/go-law-agent/internal/services"
	"github.com/tbourn/go-law-agent/internal/utils"
)

// ChatService defines the orchestrator operations consumed by the HTTP
// layer. Implementations must be safe for concurrent use and honor the
// provided context for cancellation.
type ChatService interface {
	// ProcessMessage runs one blocking conversational turn.
	ProcessMessage(ctx context.Context, req services.TurnRequest) (*services.TurnResult, error)
	// ProcessMessageStream runs one streaming turn, forwarding each
	// fragment through sink before the next one is awaited.
	ProcessMessageStream(ctx context.Context, req services.TurnRequest, sink relay.Sink) (*services.TurnResult, error)
	// GetChatHistory returns ordered session history (cache-aside).
	GetChatHistory(ctx context.Context, sessionID, userID string, limit int) ([]domain.Message, error)
	// GetUserSessions returns an owner's session summaries (cache-aside).
	GetUserSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)
	// DeleteChatHistory removes a session's messages and reports the count.
	DeleteChatHistory(ctx context.Context, sessionID, userID string) (int64, error)
	// CacheStats snapshots both result caches.
	CacheStats() (history, sessions cache.Stats)
}

// Handlers groups the chat endpoints over the orchestrator contract.
type Handlers struct {
	svc ChatService
}

// New constructs a Handlers instance bound to the given orchestrator.
func New(svc ChatService) *Handlers {
	return &Handlers{svc: svc}
}

//
// DTOs
//

// FileRef is the wire form of one attached-file descriptor. Only these
// fields survive into storage; anything else a client sends is dropped.
type FileRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Size        int64  `json:"size"`
	Path        string `json:"path"`
	PreviewURL  string `json:"preview_url"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

// ChatRequest is the JSON payload for both turn endpoints.
type ChatRequest struct {
	Message   string    `json:"message" example:"What is a tort?"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Files     []FileRef `json:"files"`
}

// HistoryResponse wraps an ordered page of session messages.
type HistoryResponse struct {
	Messages []domain.Message `json:"messages"`
}

// SessionsResponse wraps an owner's session summaries.
type SessionsResponse struct {
	Sessions []domain.SessionSummary `json:"sessions"`
}

// DeleteResponse reports how many messages a delete removed.
type DeleteResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

// CacheStatsResponse mirrors the two result caches for the stats endpoint.
type CacheStatsResponse struct {
	HistoryCache  cache.Stats `json:"history_cache"`
	SessionsCache cache.Stats `json:"sessions_cache"`
}

// toTurnRequest converts the wire payload into the orchestrator's turn
// request, normalizing attachments into the fixed descriptor type.
func (r ChatRequest) toTurnRequest() services.TurnRequest {
	req := services.TurnRequest{
		Message:   r.Message,
		SessionID: strings.TrimSpace(r.SessionID),
		UserID:    strings.TrimSpace(r.UserID),
	}
	for _, f := range r.Files {
		req.Files = append(req.Files, domain.Attachment{
			ID:          f.ID,
			Name:        f.Name,
			Kind:        f.Kind,
			Size:        f.Size,
			Path:        f.Path,
			PreviewURL:  f.PreviewURL,
			URL:         f.URL,
			DownloadURL: f.DownloadURL,
		})
	}
	return req
}

//
// Handlers
//

// PostChat godoc
// @ID          postChat
// @Summary     Send a message (blocking)
// @Description Persists the user message, generates the assistant reply, and returns it with the session and message ids.
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ChatRequest  true  "Chat turn payload"
//
// @Success     200  {object}  services.TurnResult
// @Failure     400  {object}  handlers.ErrorResponse  "Empty message or invalid body"
// @Failure     502  {object}  handlers.ErrorResponse  "Generation failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/chat [post]
func (h *Handlers) PostChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message cannot be empty")
		return
	}

	res, err := h.svc.ProcessMessage(c.Request.Context(), req.toTurnRequest())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrGenerationFailed):
			fail(c, http.StatusBadGateway, ErrCodeGenerationFailed, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeChatFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, res)
}

// sseEvent frames one server-sent event carrying a JSON payload.
func sseEvent(w gin.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// PostChatStream godoc
// @ID          postChatStream
// @Summary     Send a message (streaming)
// @Description Streams the assistant reply as server-sent events: {"content","type":"content"} per fragment, terminated by {"type":"done"} or {"type":"error","message"}.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
//
// @Param       body  body  handlers.ChatRequest  true  "Chat turn payload"
//
// @Success     200  {string}  string  "SSE stream"
// @Failure     400  {object}  handlers.ErrorResponse  "Empty message or invalid body"
// @Router      /api/chat/stream [post]
func (h *Handlers) PostChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message cannot be empty")
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	sink := func(fragment string) error {
		return sseEvent(c.Writer, gin.H{"content": fragment, "type": "content"})
	}

	_, err := h.svc.ProcessMessageStream(c.Request.Context(), req.toTurnRequest(), sink)
	if err != nil {
		// When the client is gone, writing a terminal event is pointless
		// (and would fail); otherwise signal the failure downstream.
		if c.Request.Context().Err() == nil {
			_ = sseEvent(c.Writer, gin.H{"type": "error", "message": err.Error()})
		}
		return
	}
	_ = sseEvent(c.Writer, gin.H{"type": "done"})
}

// GetHistory godoc
// @ID          getChatHistory
// @Summary     Get session history
// @Description Returns a session's messages in non-decreasing timestamp order, optionally narrowed to one owner.
// @Tags        Chat
// @Produce     json
//
// @Param       session_id  query  string  true   "Session ID"
// @Param       user_id     query  string  false  "Owner filter"
// @Param       limit       query  int     false  "Result ceiling"  minimum(1) maximum(100) default(50)
//
// @Success     200  {object}  handlers.HistoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing session_id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/chat/history [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session_id is required")
		return
	}
	userID := strings.TrimSpace(c.Query("user_id"))
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultHistoryLimit)

	msgs, err := h.svc.GetChatHistory(c.Request.Context(), sessionID, userID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeHistoryFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, HistoryResponse{Messages: msgs})
}

// GetSessions godoc
// @ID          getUserSessions
// @Summary     List an owner's sessions
// @Description Returns the owner's distinct sessions, each summarized by its latest message, newest first.
// @Tags        Chat
// @Produce     json
//
// @Param       user_id  query  string  true   "Owner ID"
// @Param       limit    query  int     false  "Result ceiling"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.SessionsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing user_id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/chat/sessions [get]
func (h *Handlers) GetSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultSessionsLimit)

	sums, err := h.svc.GetUserSessions(c.Request.Context(), userID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSessionsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, SessionsResponse{Sessions: sums})
}

// DeleteHistory godoc
// @ID          deleteChatHistory
// @Summary     Delete session history
// @Description Removes all messages of a session (optionally narrowed to one owner) and returns the count removed. Deleting a non-existent session returns zero.
// @Tags        Chat
// @Produce     json
//
// @Param       session_id  query  string  true   "Session ID"
// @Param       user_id     query  string  false  "Owner filter"
//
// @Success     200  {object}  handlers.DeleteResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing session_id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/chat/history [delete]
func (h *Handlers) DeleteHistory(c *gin.Context) {
	h.deleteBySession(c, strings.TrimSpace(c.Query("session_id")))
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a session
// @Description Same as deleting session history, with the session id taken from the path.
// @Tags        Chat
// @Produce     json
//
// @Param       session_id  path   string  true   "Session ID"
// @Param       user_id     query  string  false  "Owner filter"
//
// @Success     200  {object}  handlers.DeleteResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing session_id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/chat/sessions/{session_id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	h.deleteBySession(c, strings.TrimSpace(c.Param("session_id")))
}

func (h *Handlers) deleteBySession(c *gin.Context, sessionID string) {
	if sessionID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session_id is required")
		return
	}
	userID := strings.TrimSpace(c.Query("user_id"))

	deleted, err := h.svc.DeleteChatHistory(c.Request.Context(), sessionID, userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, DeleteResponse{DeletedCount: deleted})
}

// GetCacheStats godoc
// @ID          getCacheStats
// @Summary     Result cache statistics
// @Description Reports size, capacity, TTL, and live entry count for the history and sessions caches.
// @Tags        Cache
// @Produce     json
//
// @Success     200  {object}  handlers.CacheStatsResponse
// @Router      /cache/stats [get]
func (h *Handlers) GetCacheStats(c *gin.Context) {
	history, sessions := h.svc.CacheStats()
	ok(c, http.StatusOK, CacheStatsResponse{HistoryCache: history, SessionsCache: sessions})
}
