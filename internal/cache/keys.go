// Cache key construction and targeted invalidation.
//
// Keys are derived from the full parameter set of the read operation they
// memoize, so two reads with different limits never collide:
//
//	history:{session_id}:{user_id or "all"}:{limit}
//	sessions:{user_id}:{limit}
package cache

import (
	"fmt"

	"github.com/tbourn/go-law-agent/internal/domain"
)

// HistoryCache memoizes history-query results.
type HistoryCache = Cache[[]domain.Message]

// SessionsCache memoizes session-summary results.
type SessionsCache = Cache[[]domain.SessionSummary]

// HistoryKey builds the cache key for a history query. An empty userID is
// recorded as "all" so the unfiltered and filtered variants stay distinct.
func HistoryKey(sessionID, userID string, limit int) string {
	if userID == "" {
		userID = "all"
	}
	return fmt.Sprintf("history:%s:%s:%d", sessionID, userID, limit)
}

// SessionsKey builds the cache key for a session-summary query.
func SessionsKey(userID string, limit int) string {
	return fmt.Sprintf("sessions:%s:%d", userID, limit)
}

// InvalidateHistory removes the history entries made stale by a write or
// delete in sessionID. With an empty userID every entry for the session is
// dropped. With an owner given, the entries for that owner AND the
// unfiltered ("all") entries are dropped: an unfiltered history changes
// whenever any of its owners writes, so narrowing to the owner alone would
// leave stale results behind. The owner follows the session id in the key,
// which makes both matches plain prefix matches. It reports how many
// entries were removed.
func InvalidateHistory(c *HistoryCache, sessionID, userID string) int {
	if userID == "" {
		return c.InvalidatePrefix(fmt.Sprintf("history:%s:", sessionID))
	}
	removed := c.InvalidatePrefix(fmt.Sprintf("history:%s:%s:", sessionID, userID))
	removed += c.InvalidatePrefix(fmt.Sprintf("history:%s:all:", sessionID))
	return removed
}

// InvalidateSessions removes every session-summary entry for userID across
// all limits. It reports how many entries were removed.
func InvalidateSessions(c *SessionsCache, userID string) int {
	return c.InvalidatePrefix(fmt.Sprintf("sessions:%s:", userID))
}
