package middleware

import (
	"net/http"
	"runtime/debug"

	"chatroute/internal/gateway/handlers"
	"chatroute/pkg/logger"
)

// startedWriter records whether the status line has gone out.
type startedWriter struct {
	http.ResponseWriter
	started bool
}

func (s *startedWriter) WriteHeader(code int) {
	s.started = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *startedWriter) Write(b []byte) (int, error) {
	s.started = true
	return s.ResponseWriter.Write(b)
}

func (s *startedWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *startedWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Recovery returns a middleware that recovers from panics. Once a streamed
// response has started only the log entry is written.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &startedWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log := logger.Component("http")
			log.Error().
				Interface("panic", rec).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", GetRequestID(r.Context())).
				Bool("response_started", sw.started).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if !sw.started {
				handlers.SendError(sw, http.StatusInternalServerError, handlers.ErrCodeInternalError, "internal server error")
			}
		}()

		next.ServeHTTP(sw, r)
	})
}
