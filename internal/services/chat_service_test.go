package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-law-agent/internal/cache"
	"github.com/tbourn/go-law-agent/internal/domain"
)

// memStore is an in-memory MessageStore recording every call.
type memStore struct {
	mu        sync.Mutex
	msgs      []domain.Message
	insertErr error
	listErr   error
	deleteErr error

	listCalls    int
	sessionCalls int
}

func (s *memStore) InsertMessage(ctx context.Context, m *domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m.ID = "m-" + strconv.Itoa(len(s.msgs)+1)
	s.msgs = append(s.msgs, *m)
	return m.ID, nil
}

func (s *memStore) ListMessages(ctx context.Context, sessionID, userID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []domain.Message{}
	for _, m := range s.msgs {
		if m.SessionID != sessionID {
			continue
		}
		if userID != "" && m.UserID != userID {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ListUserSessions(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	seen := map[string]bool{}
	out := []domain.SessionSummary{}
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.UserID != userID || seen[m.SessionID] {
			continue
		}
		seen[m.SessionID] = true
		out = append(out, domain.SessionSummary{SessionID: m.SessionID, LastMessage: m.Content, Timestamp: m.Timestamp})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) DeleteMessages(ctx context.Context, sessionID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var kept []domain.Message
	var n int64
	for _, m := range s.msgs {
		if m.SessionID == sessionID && (userID == "" || m.UserID == userID) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	return n, nil
}

// scriptGen is a canned Generator.
type scriptGen struct {
	reply     string
	fragments []string
	err       error
}

func (g *scriptGen) Complete(ctx context.Context, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *scriptGen) Stream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	frags := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(frags)
		defer close(errc)
		for _, f := range g.fragments {
			frags <- f
		}
		if g.err != nil {
			errc <- g.err
		}
	}()
	return frags, errc
}

func newTestService(store *memStore, gen *scriptGen) *ChatService {
	return NewChatService(
		store,
		gen,
		cache.New[[]domain.Message](100, 5*time.Second),
		cache.New[[]domain.SessionSummary](100, 5*time.Second),
		"anonymous",
	)
}

func TestProcessMessage_HappyPath(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{reply: "Consideration is required."})

	res, err := svc.ProcessMessage(context.Background(), TurnRequest{
		Message:   "  What makes a contract binding?  ",
		SessionID: "s-1",
		UserID:    "u-1",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.Response != "Consideration is required." || res.SessionID != "s-1" || res.MessageID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(store.msgs) != 2 {
		t.Fatalf("want user+assistant persisted, got %d", len(store.msgs))
	}
	user, assistant := store.msgs[0], store.msgs[1]
	if user.Role != domain.RoleUser || user.Content != "What makes a contract binding?" || user.Kind != domain.KindText {
		t.Fatalf("user message: %+v", user)
	}
	if assistant.Role != domain.RoleAssistant || assistant.Content != res.Response || assistant.Kind != domain.KindText {
		t.Fatalf("assistant message: %+v", assistant)
	}
}

func TestProcessMessage_MintsSessionAndDefaultsOwner(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{reply: "ok"})

	res, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.SessionID == "" {
		t.Fatalf("expected a minted session id")
	}
	if store.msgs[0].UserID != "anonymous" {
		t.Fatalf("expected default owner, got %q", store.msgs[0].UserID)
	}

	// Both persisted messages share the minted session.
	if store.msgs[0].SessionID != res.SessionID || store.msgs[1].SessionID != res.SessionID {
		t.Fatalf("messages not bound to minted session")
	}
}

func TestProcessMessage_EmptyMessage(t *testing.T) {
	svc := newTestService(&memStore{}, &scriptGen{})
	if _, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
}

func TestProcessMessage_AttachmentsMarkKindFile(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{reply: "noted"})

	_, err := svc.ProcessMessage(context.Background(), TurnRequest{
		Message:   "see attached",
		SessionID: "s-1",
		UserID:    "u-1",
		Files:     []domain.Attachment{{ID: "f1", Name: "contract.pdf", Size: 1024}},
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if store.msgs[0].Kind != domain.KindFile || len(store.msgs[0].Attachments) != 1 {
		t.Fatalf("user message should carry kind=file and attachments: %+v", store.msgs[0])
	}
	// The assistant reply is plain text regardless.
	if store.msgs[1].Kind != domain.KindText || len(store.msgs[1].Attachments) != 0 {
		t.Fatalf("assistant message: %+v", store.msgs[1])
	}
}

func TestProcessMessage_GenerationFailure_KeepsUserMessage(t *testing.T) {
	store := &memStore{}
	boom := errors.New("upstream 500")
	svc := newTestService(store, &scriptGen{err: boom})

	_, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "hi", SessionID: "s-1", UserID: "u-1"})
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, boom) {
		t.Fatalf("want tagged generation failure, got %v", err)
	}
	// No rollback: the user message stays.
	if len(store.msgs) != 1 || store.msgs[0].Role != domain.RoleUser {
		t.Fatalf("user message should remain persisted: %+v", store.msgs)
	}
}

func TestProcessMessageStream_HappyPath(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{fragments: []string{"Hel", "lo"}})

	var seen []string
	res, err := svc.ProcessMessageStream(context.Background(), TurnRequest{
		Message: "hi", SessionID: "s-1", UserID: "u-1",
	}, func(f string) error {
		seen = append(seen, f)
		// The reply must not be persisted before the last fragment went out.
		if len(store.msgs) != 1 {
			t.Errorf("assistant persisted mid-stream: %d messages", len(store.msgs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessMessageStream: %v", err)
	}
	if res.Response != "Hello" {
		t.Fatalf("assembled reply = %q", res.Response)
	}
	if len(seen) != 2 || seen[0] != "Hel" || seen[1] != "lo" {
		t.Fatalf("fragments = %v", seen)
	}
	if len(store.msgs) != 2 || store.msgs[1].Content != "Hello" {
		t.Fatalf("assistant reply persisted incorrectly: %+v", store.msgs)
	}
}

func TestProcessMessageStream_UpstreamFailure_DiscardsPartial(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{fragments: []string{"par", "tial"}, err: errors.New("cut off")})

	_, err := svc.ProcessMessageStream(context.Background(), TurnRequest{
		Message: "hi", SessionID: "s-1", UserID: "u-1",
	}, func(string) error { return nil })
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("want generation failure, got %v", err)
	}
	// Partial text discarded; only the user message is stored.
	if len(store.msgs) != 1 {
		t.Fatalf("partial reply must not be persisted: %+v", store.msgs)
	}
}

func TestGetChatHistory_CacheAside(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{reply: "r"})

	if _, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "q", SessionID: "s-1", UserID: "u-1"}); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	msgs, err := svc.GetChatHistory(context.Background(), "s-1", "u-1", 0)
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history len = %d", len(msgs))
	}
	if store.listCalls != 1 {
		t.Fatalf("expected one store read, got %d", store.listCalls)
	}

	// Second read is served from cache.
	if _, err := svc.GetChatHistory(context.Background(), "s-1", "u-1", 0); err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if store.listCalls != 1 {
		t.Fatalf("cache miss on repeat read, store calls = %d", store.listCalls)
	}

	// A new turn invalidates the entry; the next read hits the store again.
	if _, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "q2", SessionID: "s-1", UserID: "u-1"}); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if _, err := svc.GetChatHistory(context.Background(), "s-1", "u-1", 0); err != nil {
		t.Fatalf("post-invalidation read: %v", err)
	}
	if store.listCalls != 2 {
		t.Fatalf("expected store re-read after invalidation, calls = %d", store.listCalls)
	}
}

func TestGetChatHistory_Validation_And_Clamp(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{})

	if _, err := svc.GetChatHistory(context.Background(), "", "u-1", 10); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("want ErrMissingSession, got %v", err)
	}

	// Oversized limits are clamped, so both land on the same cache key.
	if _, err := svc.GetChatHistory(context.Background(), "s-1", "", 5000); err != nil {
		t.Fatalf("clamped read: %v", err)
	}
	if _, err := svc.GetChatHistory(context.Background(), "s-1", "", MaxLimit); err != nil {
		t.Fatalf("max read: %v", err)
	}
	if store.listCalls != 1 {
		t.Fatalf("clamped and max limits should share a key, calls = %d", store.listCalls)
	}
}

func TestGetUserSessions_CacheAside(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{reply: "r"})

	if _, err := svc.GetUserSessions(context.Background(), "", 10); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("want ErrMissingUser, got %v", err)
	}

	if _, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "q", SessionID: "s-1", UserID: "u-1"}); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	sums, err := svc.GetUserSessions(context.Background(), "u-1", 0)
	if err != nil {
		t.Fatalf("GetUserSessions: %v", err)
	}
	if len(sums) != 1 || sums[0].SessionID != "s-1" {
		t.Fatalf("sessions = %+v", sums)
	}
	if _, err := svc.GetUserSessions(context.Background(), "u-1", 0); err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if store.sessionCalls != 1 {
		t.Fatalf("repeat read should hit cache, calls = %d", store.sessionCalls)
	}
}

func TestDeleteChatHistory(t *testing.T) {
	store := &memStore{}
	svc := newTestService(store, &scriptGen{reply: "r"})

	if _, err := svc.DeleteChatHistory(context.Background(), "", "u-1"); !errors.Is(err, ErrMissingSession) {
		t.Fatalf("want ErrMissingSession, got %v", err)
	}

	if _, err := svc.ProcessMessage(context.Background(), TurnRequest{Message: "q", SessionID: "s-1", UserID: "u-1"}); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	// Warm the history cache, then delete; the stale entry must go.
	if _, err := svc.GetChatHistory(context.Background(), "s-1", "u-1", 0); err != nil {
		t.Fatalf("warm read: %v", err)
	}

	n, err := svc.DeleteChatHistory(context.Background(), "s-1", "u-1")
	if err != nil {
		t.Fatalf("DeleteChatHistory: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d; want 2", n)
	}

	msgs, err := svc.GetChatHistory(context.Background(), "s-1", "u-1", 0)
	if err != nil {
		t.Fatalf("post-delete read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("history should be empty after delete, got %d", len(msgs))
	}

	// Deleting a session that never existed reports zero, not an error.
	n, err = svc.DeleteChatHistory(context.Background(), "ghost", "u-1")
	if err != nil || n != 0 {
		t.Fatalf("ghost delete = (%d, %v)", n, err)
	}
}

func TestCacheStats_Shape(t *testing.T) {
	svc := newTestService(&memStore{}, &scriptGen{})
	h, s := svc.CacheStats()
	if h.MaxSize != 100 || s.MaxSize != 100 || h.TTL != 5.0 {
		t.Fatalf("stats = %+v / %+v", h, s)
	}
}

func Test_clampLimit(t *testing.T) {
	if clampLimit(0, DefaultHistoryLimit) != DefaultHistoryLimit {
		t.Fatalf("zero should take the default")
	}
	if clampLimit(-5, DefaultSessionsLimit) != DefaultSessionsLimit {
		t.Fatalf("negative should take the default")
	}
	if clampLimit(7, 50) != 7 {
		t.Fatalf("in-range should pass through")
	}
	if clampLimit(MaxLimit+1, 50) != MaxLimit {
		t.Fatalf("oversized should clamp to MaxLimit")
	}
}
