package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"replyflow/internal/batch"
	"replyflow/internal/config"
	"replyflow/internal/ingest"
	"replyflow/internal/logger"
	"replyflow/internal/models"
	"replyflow/internal/scheduler"
	"replyflow/internal/storage"
)

// Server is the HTTP boundary: webhook intake, the two periodic-trigger
// endpoints, and queue introspection.
type Server struct {
	server   *http.Server
	certFile string
	keyFile  string
}

// Deps collects the collaborators the HTTP handlers drive.
type Deps struct {
	Ingestor  *ingest.Ingestor
	Scheduler *scheduler.Scheduler
	Drainer   *batch.Drainer
	Queue     *storage.QueueRepository

	SchedulerBudget time.Duration
	DrainerBudget   time.Duration
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	h := &handlers{cfg: cfg, deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.Server.WebhookPath, h.verifySubscription)
	mux.HandleFunc("POST "+cfg.Server.WebhookPath, h.receiveEvents)
	mux.HandleFunc("POST /internal/drain-queue", h.drainQueue)
	mux.HandleFunc("POST /internal/drain-events", h.drainEvents)
	mux.HandleFunc("GET /internal/accounts/{id}/queue", h.queueStats)

	return &Server{
		server: &http.Server{
			Addr:    "0.0.0.0:" + cfg.Server.ListenPort,
			Handler: mux,
		},
		certFile: cfg.Server.CertFile,
		keyFile:  cfg.Server.KeyFile,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger.Infof("Starting HTTP server on %s", s.server.Addr)

	if s.certFile != "" && s.keyFile != "" {
		logger.Infof("Using TLS with cert: %s, key: %s", s.certFile, s.keyFile)
		return s.server.ListenAndServeTLS(s.certFile, s.keyFile)
	}

	logger.Infof("WARNING: Running without TLS. Make sure you have a HTTPS proxy in front of this server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type handlers struct {
	cfg  *config.Config
	deps Deps
}

// verifySubscription answers the platform's webhook subscription handshake
func (h *handlers) verifySubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.cfg.Server.VerifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	logger.Warningf("webhook verification rejected from %s", r.RemoteAddr)
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (h *handlers) receiveEvents(w http.ResponseWriter, r *http.Request) {
	// Receipt id correlates every log line produced by one delivery.
	receipt := uuid.NewString()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// Authenticity first: nothing in the payload is trusted until the
	// signature over the raw body checks out.
	if !VerifySignature(h.cfg.Server.AppSecret, body, r.Header.Get(signatureHeader)) {
		logger.Warningf("webhook delivery %s: signature rejected from %s", receipt, r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	events, err := ParseEnvelope(body)
	if err != nil {
		logger.Warningf("webhook delivery %s: malformed payload from %s: %v", receipt, r.RemoteAddr, err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	inline, deferred, err := h.deps.Ingestor.Ingest(r.Context(), events)
	if err != nil {
		logger.Errorf("webhook delivery %s: ingestion failed: %v", receipt, err)
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
		return
	}

	logger.Debugf("webhook delivery %s: %d inline, %d deferred", receipt, inline, deferred)
	writeJSON(w, map[string]int{"inline": inline, "deferred": deferred})
}

// authorizeTrigger guards the internal endpoints with the shared bearer
// credential.
func (h *handlers) authorizeTrigger(w http.ResponseWriter, r *http.Request) bool {
	expected := "Bearer " + h.cfg.Server.TriggerToken
	got := r.Header.Get("Authorization")
	if h.cfg.Server.TriggerToken == "" ||
		subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		logger.Warningf("trigger auth rejected from %s for %s", r.RemoteAddr, r.URL.Path)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (h *handlers) drainQueue(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeTrigger(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.SchedulerBudget)
	defer cancel()

	stats, err := h.deps.Scheduler.RunOnce(ctx)
	if err != nil {
		logger.Errorf("drain-queue run failed: %v", err)
		http.Error(w, "run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (h *handlers) drainEvents(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeTrigger(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.DrainerBudget)
	defer cancel()

	stats, err := h.deps.Drainer.RunOnce(ctx)
	if err != nil {
		logger.Errorf("drain-events run failed: %v", err)
		http.Error(w, "run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// queueStatsResponse is the per-account queue summary owners see: depth
// and failure counts, never per-item detail.
type queueStatsResponse struct {
	PendingCount                  int64      `json:"pendingCount"`
	FailedCount                   int64      `json:"failedCount"`
	NextScheduledSendAt           *time.Time `json:"nextScheduledSendAt"`
	EstimatedMinutesUntilNextSend int        `json:"estimatedMinutesUntilNextSend"`
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeTrigger(w, r) {
		return
	}
	accountID := r.PathValue("id")

	pending, err := h.deps.Queue.CountByStatus(accountID, models.StatusPending)
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	failed, err := h.deps.Queue.CountByStatus(accountID, models.StatusFailed)
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	next, err := h.deps.Queue.NextScheduledAt(accountID)
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	resp := queueStatsResponse{
		PendingCount:        pending,
		FailedCount:         failed,
		NextScheduledSendAt: next,
	}
	if next != nil {
		if until := time.Until(*next); until > 0 {
			resp.EstimatedMinutesUntilNextSend = int(math.Ceil(until.Minutes()))
		}
	}

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("write response: %v", err)
	}
}
