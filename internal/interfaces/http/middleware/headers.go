package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/accessgate/pkg/constants"
)

// Fixed response header values.
const (
	ContentSecurityPolicy = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'"
	PermissionsPolicy = "geolocation=(), microphone=(), camera=(), payment=(), usb=()"
)

// applySecurityHeaders sets the headers every response carries.
func applySecurityHeaders(h http.Header, https bool, hstsMaxAge int) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", PermissionsPolicy)
	h.Set("Content-Security-Policy", ContentSecurityPolicy)
	if https && hstsMaxAge > 0 {
		h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", hstsMaxAge))
	}
}

// isHTTPS reports whether the request arrived over TLS or a proxy says it did.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get(constants.HeaderForwardedProto), "https")
}

// finalizingWriter applies the last response headers right before they are flushed.
// gin writes the status line lazily, so headers changed here still reach the client.
type finalizingWriter struct {
	gin.ResponseWriter
	start     time.Time
	now       func() time.Time
	finalized bool
}

func (w *finalizingWriter) finalize() {
	if w.finalized {
		return
	}
	w.finalized = true
	h := w.ResponseWriter.Header()
	h.Del(constants.HeaderServer)
	h.Del(constants.HeaderPoweredBy)
	h.Set(constants.HeaderProcessingTime, formatProcessingTime(w.now().Sub(w.start)))
}

func (w *finalizingWriter) WriteHeaderNow() {
	w.finalize()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *finalizingWriter) Write(data []byte) (int, error) {
	w.finalize()
	return w.ResponseWriter.Write(data)
}

func (w *finalizingWriter) WriteString(s string) (int, error) {
	w.finalize()
	return w.ResponseWriter.WriteString(s)
}

func (w *finalizingWriter) Flush() {
	w.finalize()
	w.ResponseWriter.Flush()
}

// formatProcessingTime renders d in seconds with microsecond precision, e.g. "0.001234s".
func formatProcessingTime(d time.Duration) string {
	return fmt.Sprintf("%.6fs", d.Seconds())
}
