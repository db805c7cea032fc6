package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"linegem/internal/agent"
	"linegem/internal/domain"
	"linegem/internal/line"
	"linegem/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Dispatcher handles a decoded webhook batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event) ([]*domain.SendAck, error)
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Host          string
	Port          int
	WebhookPath   string // default /webhook
	Greeting      string // body of GET /
	ChannelSecret string // empty disables signature verification
	Dispatcher    Dispatcher
	Metrics       http.Handler // optional
	MetricsPath   string
	Logger        *slog.Logger
}

// Server receives LINE webhook batches and hands them to the dispatcher.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the webhook server, filling in default path, port and logger.
func NewServer(cfg ServerConfig) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 3009
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WebhookPath, s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.cfg.Metrics)
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", s.server.Addr, "path", s.cfg.WebhookPath,
		"signature_check", s.cfg.ChannelSecret != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(rw, s.cfg.Greeting)
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID)
	rw.Header().Set("X-Request-Id", requestID)
	metrics.WebhookRequests.Inc()
	start := time.Now()
	defer metrics.BatchLatency.ObserveSince(start)

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(rw, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	if s.cfg.ChannelSecret != "" {
		sig := r.Header.Get(line.SignatureHeader)
		if sig == "" {
			logger.Warn("webhook rejected: missing signature")
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !line.ValidateSignature(s.cfg.ChannelSecret, body, sig) {
			logger.Warn("webhook rejected: invalid signature")
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	payload, err := decodeWebhookBody(body)
	if err != nil {
		metrics.WebhookFailures.Inc()
		logger.Error("webhook body rejected", "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger.Info("webhook received", "destination", payload.Destination, "events", len(payload.Events))

	ctx := agent.WithLogger(r.Context(), logger)
	results, err := s.cfg.Dispatcher.Dispatch(ctx, payload.Events)
	if err != nil {
		metrics.WebhookFailures.Inc()
		logger.Error("webhook batch failed", "error", err, "duration", time.Since(start))
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []*domain.SendAck{}
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(results)
}

// decodeWebhookBody requires an events array. An empty array is LINE's
// verification request; a missing or null one is a malformed body.
func decodeWebhookBody(body []byte) (*domain.WebhookBody, error) {
	var raw struct {
		Destination string          `json:"destination"`
		Events      *[]domain.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.Events == nil {
		return nil, errors.New("events array missing")
	}
	return &domain.WebhookBody{Destination: raw.Destination, Events: *raw.Events}, nil
}
