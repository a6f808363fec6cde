package mcpserver

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

var sensitiveHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Api-Key":     true,
	"X-Auth-Token":  true,
}

// AuditEntry is one JSON audit record of a request that skipped authentication.
type AuditEntry struct {
	Timestamp    time.Time         `json:"timestamp"`
	IP           string            `json:"ip"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	MatchedRange string            `json:"matched_range,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// AuditLogger writes bypass audit records as JSON lines.
type AuditLogger struct {
	logger *log.Logger
	now    func() time.Time
}

// NewAuditLogger writes to w, or stderr when w is nil.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		w = os.Stderr
	}
	return &AuditLogger{
		logger: log.New(w, "[BYPASS-AUDIT] ", log.LstdFlags),
		now:    time.Now,
	}
}

// NewAuditEntry captures the request with sensitive headers removed.
func NewAuditEntry(r *http.Request, clientIP, matchedRange string) AuditEntry {
	headers := make(map[string]string)
	for key := range r.Header {
		if !sensitiveHeaders[http.CanonicalHeaderKey(key)] {
			headers[key] = r.Header.Get(key)
		}
	}
	return AuditEntry{
		IP:           clientIP,
		Method:       r.Method,
		Path:         r.URL.Path,
		MatchedRange: matchedRange,
		UserAgent:    r.UserAgent(),
		Headers:      headers,
	}
}

// Log records entry.
func (l *AuditLogger) Log(entry AuditEntry) error {
	entry.Timestamp = l.now()
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("failed to marshal audit entry for IP '%s' on %s %s: %v", entry.IP, entry.Method, entry.Path, err)
		return err
	}
	l.logger.Printf("%s", data)
	return nil
}
