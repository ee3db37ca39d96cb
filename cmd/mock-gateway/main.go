// mock-gateway is a stand-in SMS gateway for local runs. It accepts the
// dispatcher's webhook contract and fails a configurable fraction of sends,
// which is enough to rehearse the retry and breaker behavior end to end.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"clinotify/internal/config"
	"clinotify/internal/logging"
)

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}

type server struct {
	cfg   config.GatewayConfig
	idx   uint64
	rng   *rand.Rand
	rngMu sync.Mutex
}

func main() {
	cfg := config.LoadGateway()
	logging.Init("mock-gateway", cfg.LogFormat)

	s := &server{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/messages", s.handleSend).Methods(http.MethodPost)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	slog.Info("mock gateway listening", "port", cfg.Port, "success_rate", cfg.SuccessRate)
	if err := http.ListenAndServe(":"+cfg.Port, loggingMiddleware(router)); err != nil {
		slog.Error("mock gateway server failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Message: "invalid json"})
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, sendResponse{Message: "phoneNumber and message are required"})
		return
	}

	if s.cfg.DelayMs > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Duration(s.cfg.DelayMs) * time.Millisecond):
		}
	}

	if !s.roll() {
		writeJSON(w, http.StatusInternalServerError, sendResponse{Message: "carrier unavailable"})
		return
	}

	id := fmt.Sprintf("gw-%06d", atomic.AddUint64(&s.idx, 1))
	writeJSON(w, http.StatusAccepted, sendResponse{Message: "Accepted", MessageID: id})
}

func (s *server) roll() bool {
	if s.cfg.SuccessRate >= 1 {
		return true
	}
	s.rngMu.Lock()
	ok := s.rng.Float64() < s.cfg.SuccessRate
	s.rngMu.Unlock()
	return ok
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock gateway request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
