package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/includelabs/sign-core/internal/bus"
	"github.com/includelabs/sign-core/internal/capability"
	"github.com/includelabs/sign-core/internal/classify"
	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/dispatch"
	"github.com/includelabs/sign-core/internal/natsserver"
	"github.com/includelabs/sign-core/internal/recognizer"
	"github.com/includelabs/sign-core/internal/sessionlog"
)

const pruneInterval = time.Hour

// Runtime is the composition root of the signd process: embedded bus,
// session log, capability registry, classifier, output dispatcher and the
// recognizer service, plus the HTTP health and metrics surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded   *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *sessionlog.Store
	registry   *capability.Registry
	dispatcher *dispatch.Dispatcher
	recognizer *recognizer.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := sessionlog.Open(ctx, r.cfg.SessionLog, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to open session log: %w", err)
	}
	r.store = store

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, busClient, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	r.registry = registry

	classifier, err := classify.New(r.cfg.Classifier)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	r.dispatcher = dispatch.NewDispatcher(ctx, r.cfg.Sinks, r.buildSinks(), r.logger)
	r.dispatcher.Start()

	r.recognizer = recognizer.NewService(ctx, r.cfg, busClient, store, classifier, r.dispatcher, r.logger)
	if err := r.recognizer.Start(); err != nil {
		r.teardown()
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	r.wg.Add(1)
	go r.runPruner(ctx)

	if err := r.startHTTP(metricHandler); err != nil {
		r.teardown()
		return err
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("node_id", r.cfg.Node.ID),
		slog.String("classifier_mode", r.cfg.Classifier.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	r.wg.Wait()
	r.teardown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildSinks() []dispatch.Sink {
	var sinks []dispatch.Sink
	if r.cfg.Sinks.Text.Enabled {
		sinks = append(sinks, dispatch.NewTextSink(r.busClient))
	}
	if r.cfg.Sinks.Speech.Enabled {
		sinks = append(sinks, dispatch.NewSpeechSink(r.busClient, r.cfg.Sinks.Speech.Voice))
	}
	if r.cfg.Sinks.Visual.Enabled {
		sinks = append(sinks, dispatch.NewVisualSink(r.busClient))
	}
	// The commit stream and the session log are not optional modalities.
	sinks = append(sinks, dispatch.NewPhraseSink(r.busClient))
	sinks = append(sinks, dispatch.NewLogSink(r.store))
	return sinks
}

func (r *Runtime) startHTTP(metricHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("http server listening", slog.String("addr", addr))
	return nil
}

// runPruner trims the session log on an hourly cadence. Retention itself is
// the store's call; in ephemeral mode pruning is a no-op.
func (r *Runtime) runPruner(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("session log prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) teardown() {
	if r.recognizer != nil {
		r.recognizer.Close()
	}
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("session log close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	r.embedded.Shutdown()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := r.ready.Load() &&
		r.recognizer != nil && r.recognizer.Healthy() &&
		r.registry != nil && r.registry.Healthy()
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	if r.registry == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var filter func(capability.NodeInfo) bool
	if name := req.URL.Query().Get("capability"); name != "" {
		filter = capability.WithCapabilityFilter(name)
	}
	nodes := r.registry.Query(filter)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		r.logger.Warn("failed to encode node list", slog.String("error", err.Error()))
	}
}
