// Package trigger runs a small HTTP server that starts a sync on signed
// POST requests and exposes metrics about past runs.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schaermu/treesyncd/internal/activation"
	"github.com/schaermu/treesyncd/internal/config"
	"github.com/schaermu/treesyncd/internal/metrics"
	treesync "github.com/schaermu/treesyncd/internal/sync"
)

const (
	SignatureHeader = "X-Treesyncd-Signature"
	signaturePrefix = "sha256="
	maxBodyBytes    = 1 << 20
)

// Syncer runs one sync. *treesync.Engine implements it.
type Syncer interface {
	Sync(source, destination string, opts *treesync.Options) (*treesync.Result, error)
}

// Server implements the trigger HTTP server
type Server struct {
	cfg      *config.Config
	syncer   Syncer
	opts     treesync.Options
	logger   *slog.Logger
	secret   []byte
	metrics  *metrics.Collector
	registry *prometheus.Registry

	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool
	syncPending bool
	debounce    *debouncer
}

// debouncer collapses bursts of triggers into one call
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new trigger server. The secret is read once here.
func NewServer(cfg *config.Config, syncer Syncer, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.TriggerSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger secret: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("trigger secret file %s is empty", cfg.Serve.TriggerSecretFile)
	}

	opts, err := cfg.SyncOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid sync options: %w", err)
	}

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		cfg:      cfg,
		syncer:   syncer,
		opts:     opts,
		logger:   logger,
		secret:   secret,
		metrics:  collector,
		registry: registry,
		debounce: &debouncer{delay: cfg.Serve.Debounce},
	}, nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleTrigger)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start performs an initial sync, then serves on the systemd-activated
// sockets or on serve.listen_addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listeners, activated, err := activation.ListenersOrTCP(s.cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	if activated {
		s.logger.Info("using systemd-activated sockets", "count", len(listeners))
	}
	return s.Serve(ctx, listeners)
}

// Serve performs an initial sync and serves on listeners until ctx is
// cancelled. It takes ownership of the listeners.
func (s *Server) Serve(ctx context.Context, listeners []net.Listener) error {
	s.logger.Info("performing initial sync before starting trigger server")
	s.performSync()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			s.logger.Info("trigger server starting", "addr", ln.Addr().String())
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(ln)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down trigger server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		_ = server.Close()
		return err
	}
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("rejecting request with invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	s.logger.Info("sync trigger accepted", "remote", r.RemoteAddr)

	s.debounce.trigger(s.performSync)

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok\n")
}

// Sign returns the signature header value for body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a sha256=<hex> HMAC of body
func (s *Server) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(s.secret, body)))
}

// performSync executes the sync with single-flight semantics.
// If a sync is already in progress, at most one additional run is queued;
// further concurrent requests are dropped.
func (s *Server) performSync() {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		s.runOnce()

		s.syncMu.Lock()
		if !s.syncPending {
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running sync due to pending request")
	}
}

func (s *Server) runOnce() {
	s.logger.Info("performing sync operation", s.cfg.Summary()...)

	opts := s.opts
	start := time.Now()
	res, err := s.syncer.Sync(s.cfg.Source, s.cfg.Destination, &opts)
	s.metrics.Record(res, time.Since(start), err)

	if err != nil {
		s.logger.Error("sync failed", "error", err)
		return
	}
	s.logger.Info("sync completed successfully", "changes", res.Changes())
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback that has not started yet
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
