// Package middleware contains the shared Gin middleware for the HTTP layer.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Scrub patterns, compiled once. UUIDs are rewritten before phone numbers
// so the looser phone pattern cannot match digit runs inside an id.
var (
	scrubUUID  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	scrubEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	scrubPhone = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// alwaysMasked headers are fully replaced regardless of configuration.
var alwaysMasked = []string{"authorization", "cookie", "set-cookie"}

// RedactOptions extends the built-in scrub behavior of RedactingLogger.
// MaskHeaders names additional headers whose values are replaced wholesale
// with "[REDACTED]"; matching is case-insensitive.
type RedactOptions struct {
	MaskHeaders []string
}

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = scrubUUID.ReplaceAllString(s, "[REDACTED:id]")
	s = scrubEmail.ReplaceAllString(s, "[REDACTED:email]")
	return scrubPhone.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger logs each request with identifier-shaped, email-shaped and
// phone-shaped values scrubbed from the query string and header values, and
// sensitive headers masked entirely. Bodies are never logged. Severity tracks
// the response status: info below 400, warn for 4xx, error for 5xx.
//
// Scrubbing narrows, but does not remove, the risk of personal data reaching
// the logs; callers should still keep identifiers out of query strings where
// the route allows it.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{}, len(alwaysMasked)+len(opts.MaskHeaders))
	for _, h := range alwaysMasked {
		masked[h] = struct{}{}
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		query := scrub(c.Request.URL.RawQuery)

		headers := make(map[string]string, len(c.Request.Header))
		for name, values := range c.Request.Header {
			if _, ok := masked[strings.ToLower(name)]; ok {
				headers[name] = "[REDACTED]"
				continue
			}
			headers[name] = scrub(strings.Join(values, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", route).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
