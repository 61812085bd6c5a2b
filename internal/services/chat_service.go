// Package services – ChatService
//
// This file implements the ChatService, the orchestrator for one
// conversational turn and for the cached read paths. A turn walks a fixed
// sequence: persist the user message, invoke the generation capability
// (blocking or streaming), persist the assembled assistant reply, invalidate
// the history and sessions caches for the affected session/owner, and return
// or finish streaming. There is deliberately no compensating rollback: a
// store or generation failure after the user message is written leaves that
// message in place.
//
// Reads are cache-aside with explicit, visible control flow: check the
// cache, on miss query the store, populate, return. Invalidation failures
// never abort the triggering request; a cache that cannot be populated
// simply degrades to misses.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// session/owner identifiers and limits.
package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-law-agent/internal/cache"
	"github.com/tbourn/go-law-agent/internal/domain"
	"github.com/tbourn/go-law-agent/internal/relay"
)

// Default and maximum result ceilings for the read paths.
const (
	DefaultHistoryLimit  = 50
	DefaultSessionsLimit = 20
	MaxLimit             = 100
)

// MessageStore is the thin contract around the persistent document store.
// Implementations must be safe for concurrent use.
type MessageStore interface {
	// InsertMessage appends a message, assigning its id and timestamp.
	InsertMessage(ctx context.Context, m *domain.Message) (string, error)
	// ListMessages returns session messages in non-decreasing timestamp order.
	ListMessages(ctx context.Context, sessionID, userID string, limit int) ([]domain.Message, error)
	// ListUserSessions summarizes an owner's sessions, newest first.
	ListUserSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)
	// DeleteMessages bulk-removes messages by session (and owner) filter.
	DeleteMessages(ctx context.Context, sessionID, userID string) (int64, error)
}

// Generator is the upstream text-generation capability.
type Generator interface {
	// Complete blocks until the full reply is available.
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream yields reply fragments in order; a mid-stream failure arrives
	// on the error channel before both channels close.
	Stream(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

// TurnRequest is one inbound conversational turn.
type TurnRequest struct {
	Message   string
	SessionID string // minted when empty
	UserID    string // defaulted when empty
	Files     []domain.Attachment
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// ChatService coordinates store writes, cache invalidation, and response
// assembly for conversational turns, plus the cached read and delete paths.
// Both caches are injected so tests can run with isolated instances.
type ChatService struct {
	Store    MessageStore
	Gen      Generator
	History  *cache.HistoryCache
	Sessions *cache.SessionsCache

	// DefaultUserID is the owner recorded when a request carries none.
	DefaultUserID string
}

// NewChatService wires an orchestrator over its collaborators.
func NewChatService(store MessageStore, gen Generator, history *cache.HistoryCache, sessions *cache.SessionsCache, defaultUserID string) *ChatService {
	return &ChatService{
		Store:         store,
		Gen:           gen,
		History:       history,
		Sessions:      sessions,
		DefaultUserID: defaultUserID,
	}
}

// resolveTurn validates the inbound message and fills in the session and
// owner identifiers.
func (s *ChatService) resolveTurn(req *TurnRequest) error {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return ErrEmptyMessage
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.UserID == "" {
		req.UserID = s.DefaultUserID
	}
	return nil
}

// persistUserMessage writes the inbound message. Kind becomes "file" when
// attachments are present.
func (s *ChatService) persistUserMessage(ctx context.Context, req TurnRequest) (string, error) {
	kind := domain.KindText
	if len(req.Files) > 0 {
		kind = domain.KindFile
	}
	return s.Store.InsertMessage(ctx, &domain.Message{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Role:        domain.RoleUser,
		Content:     req.Message,
		Kind:        kind,
		Attachments: req.Files,
	})
}

// persistAssistantMessage writes the assembled reply (always kind "text").
func (s *ChatService) persistAssistantMessage(ctx context.Context, req TurnRequest, reply string) (string, error) {
	return s.Store.InsertMessage(ctx, &domain.Message{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      domain.RoleAssistant,
		Content:   reply,
		Kind:      domain.KindText,
	})
}

// invalidateTurn drops the cache entries made stale by a write in the
// session. Invalidation never fails the turn.
func (s *ChatService) invalidateTurn(sessionID, userID string) {
	h := cache.InvalidateHistory(s.History, sessionID, userID)
	sc := cache.InvalidateSessions(s.Sessions, userID)
	cacheInvalidations.WithLabelValues(cacheHistory).Add(float64(h))
	cacheInvalidations.WithLabelValues(cacheSessions).Add(float64(sc))
}

// ProcessMessage runs one non-streaming turn: persist user message, generate
// the full reply, persist it, invalidate caches, return. On generation or
// persistence failure after the user message was written, that message
// remains written and the error is returned.
func (s *ChatService) ProcessMessage(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "ProcessMessage",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("user.id", req.UserID),
		),
	)
	defer span.End()

	if err := s.resolveTurn(&req); err != nil {
		return nil, err
	}

	if _, err := s.persistUserMessage(ctx, req); err != nil {
		chatTurns.WithLabelValues(modeBlocking, outcomeFailed).Inc()
		return nil, err
	}

	reply, err := s.Gen.Complete(ctx, req.Message)
	if err != nil {
		chatTurns.WithLabelValues(modeBlocking, outcomeFailed).Inc()
		return nil, joinGeneration(err)
	}

	msgID, err := s.persistAssistantMessage(ctx, req, reply)
	if err != nil {
		chatTurns.WithLabelValues(modeBlocking, outcomeFailed).Inc()
		return nil, err
	}

	s.invalidateTurn(req.SessionID, req.UserID)
	chatTurns.WithLabelValues(modeBlocking, outcomeCompleted).Inc()

	log.Debug().
		Str("session_id", req.SessionID).
		Str("user_id", req.UserID).
		Int("reply_len", len(reply)).
		Msg("turn completed")

	return &TurnResult{Response: reply, SessionID: req.SessionID, MessageID: msgID}, nil
}

// ProcessMessageStream runs one streaming turn. Each upstream fragment is
// forwarded through sink in arrival order while being accumulated; the
// assembled reply is persisted exactly once, after the last fragment has
// been forwarded and never before. On upstream failure the partial text is
// discarded, the caller signals the terminal error downstream, and the
// user message stays persisted.
func (s *ChatService) ProcessMessageStream(ctx context.Context, req TurnRequest, sink relay.Sink) (*TurnResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "ProcessMessageStream",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("user.id", req.UserID),
		),
	)
	defer span.End()

	if err := s.resolveTurn(&req); err != nil {
		return nil, err
	}

	if _, err := s.persistUserMessage(ctx, req); err != nil {
		chatTurns.WithLabelValues(modeStreaming, outcomeFailed).Inc()
		return nil, err
	}

	fragments, errc := s.Gen.Stream(ctx, req.Message)
	reply, n, err := relay.Pump(fragments, errc, sink)
	streamFragments.Add(float64(n))
	if err != nil {
		chatTurns.WithLabelValues(modeStreaming, outcomeFailed).Inc()
		log.Warn().
			Err(err).
			Str("session_id", req.SessionID).
			Int("fragments", n).
			Msg("streaming turn aborted, partial reply discarded")
		return nil, joinGeneration(err)
	}

	msgID, err := s.persistAssistantMessage(ctx, req, reply)
	if err != nil {
		chatTurns.WithLabelValues(modeStreaming, outcomeFailed).Inc()
		return nil, err
	}

	s.invalidateTurn(req.SessionID, req.UserID)
	chatTurns.WithLabelValues(modeStreaming, outcomeCompleted).Inc()

	log.Debug().
		Str("session_id", req.SessionID).
		Str("user_id", req.UserID).
		Int("fragments", n).
		Int("reply_len", len(reply)).
		Msg("streaming turn completed")

	return &TurnResult{Response: reply, SessionID: req.SessionID, MessageID: msgID}, nil
}

// GetChatHistory returns up to limit messages of a session in
// non-decreasing timestamp order, optionally narrowed to one owner.
// Cache-aside: a fresh cache entry short-circuits the store.
func (s *ChatService) GetChatHistory(ctx context.Context, sessionID, userID string, limit int) ([]domain.Message, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "GetChatHistory",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if sessionID == "" {
		return nil, ErrMissingSession
	}
	limit = clampLimit(limit, DefaultHistoryLimit)

	key := cache.HistoryKey(sessionID, userID, limit)
	if msgs, ok := s.History.Get(key); ok {
		cacheHits.WithLabelValues(cacheHistory).Inc()
		return msgs, nil
	}
	cacheMisses.WithLabelValues(cacheHistory).Inc()

	msgs, err := s.Store.ListMessages(ctx, sessionID, userID, limit)
	if err != nil {
		return nil, err
	}
	s.History.Put(key, msgs)
	return msgs, nil
}

// GetUserSessions returns up to limit session summaries owned by userID,
// sorted by last-message timestamp descending. Cache-aside like history.
func (s *ChatService) GetUserSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "GetUserSessions",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrMissingUser
	}
	limit = clampLimit(limit, DefaultSessionsLimit)

	key := cache.SessionsKey(userID, limit)
	if sums, ok := s.Sessions.Get(key); ok {
		cacheHits.WithLabelValues(cacheSessions).Inc()
		return sums, nil
	}
	cacheMisses.WithLabelValues(cacheSessions).Inc()

	sums, err := s.Store.ListUserSessions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	s.Sessions.Put(key, sums)
	return sums, nil
}

// DeleteChatHistory bulk-removes a session's messages (narrowed to userID
// when given), invalidates both caches, and returns the count removed.
// Deleting a non-existent session is not an error and returns zero. With no
// owner given the sessions cache cannot be targeted; its TTL is the bound
// on staleness there.
func (s *ChatService) DeleteChatHistory(ctx context.Context, sessionID, userID string) (int64, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "DeleteChatHistory",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if sessionID == "" {
		return 0, ErrMissingSession
	}

	deleted, err := s.Store.DeleteMessages(ctx, sessionID, userID)
	if err != nil {
		return 0, err
	}

	h := cache.InvalidateHistory(s.History, sessionID, userID)
	cacheInvalidations.WithLabelValues(cacheHistory).Add(float64(h))
	if userID != "" {
		sc := cache.InvalidateSessions(s.Sessions, userID)
		cacheInvalidations.WithLabelValues(cacheSessions).Add(float64(sc))
	}

	log.Info().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Int64("deleted", deleted).
		Msg("chat history deleted")

	return deleted, nil
}

// CacheStats reports the shape of both caches for the stats endpoint.
func (s *ChatService) CacheStats() (history, sessions cache.Stats) {
	return s.History.Stats(), s.Sessions.Stats()
}

// clampLimit bounds a requested result ceiling to [1, MaxLimit], applying
// def when the request carries none.
func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
