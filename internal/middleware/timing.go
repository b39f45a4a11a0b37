package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/swotplanner/backend/internal/logger"
)

// SlowRequestThreshold is the duration above which Timing logs a warning.
// bcrypt at the default cost puts login and register close to this.
const SlowRequestThreshold = 500 * time.Millisecond

// timingWriter stamps a Server-Timing header just before the headers go out.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	statusCode  int
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.statusCode = code
		w.Header().Set("Server-Timing", formatServerTiming(time.Since(w.start)))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Timing adds a Server-Timing header for browser DevTools and warns about
// slow requests.
func Timing(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &timingWriter{ResponseWriter: w, start: time.Now(), statusCode: http.StatusOK}

			next.ServeHTTP(tw, r)

			if duration := time.Since(tw.start); duration > SlowRequestThreshold {
				log.Warn(r.Context(), "slow request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      tw.statusCode,
					"duration_ms": duration.Milliseconds(),
				})
			}
		})
	}
}

func formatServerTiming(d time.Duration) string {
	ms := float64(d.Nanoseconds()) / 1e6
	return "total;dur=" + strconv.FormatFloat(ms, 'f', 2, 64)
}
