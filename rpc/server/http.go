package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// startStatus serves /metrics and /streams on the status endpoint
func (s *Server) startStatus() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", loggerMiddleware(func(w http.ResponseWriter, r *http.Request) {
		s.WritePrometheus(w)
	}))
	mux.HandleFunc("/streams", loggerMiddleware(s.handleStreams))

	listener, err := net.Listen("tcp", s.conf.StatusEndpoint)
	if err != nil {
		return fmt.Errorf("failed to create status listener: %v", err)
	}

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	s.mu.Lock()
	s.status = srv
	s.statusAddr = listener.Addr()
	s.mu.Unlock()

	Logger.Infof("status endpoint on http://%s", listener.Addr())
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("status endpoint failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Recordings()); err != nil {
		Logger.Errorf("failed to encode streams: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, duration)
	}
}
