package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/adapter/balancer"
	"github.com/thushan/codex-helper-proxy/internal/adapter/control"
	"github.com/thushan/codex-helper-proxy/internal/adapter/modelrouter"
	"github.com/thushan/codex-helper-proxy/internal/adapter/proxy"
	"github.com/thushan/codex-helper-proxy/internal/adapter/requestlog"
	"github.com/thushan/codex-helper-proxy/internal/adapter/retry"
	"github.com/thushan/codex-helper-proxy/internal/adapter/state"
	"github.com/thushan/codex-helper-proxy/internal/adapter/usage"
	"github.com/thushan/codex-helper-proxy/internal/app/services"
	"github.com/thushan/codex-helper-proxy/internal/config"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/logger"
	"github.com/thushan/codex-helper-proxy/internal/metrics"
	"github.com/thushan/codex-helper-proxy/internal/tui"
	"github.com/thushan/codex-helper-proxy/pkg/eventbus"
)

// usageSampleInterval is how often the background loop copies the
// sampled gauges (usage_exhausted, dropped records) into Prometheus;
// these have no change-notification of their own, so polling is the
// simplest correct option at this cardinality.
const usageSampleInterval = 15 * time.Second

// Application wires everything into one running process: one
// *http.Server per configured service, a shared upstream state store,
// control surface and request log writer behind all of them, and the
// background services (usage pollers, the log writer) orchestrated by
// a ServiceManager.
type Application struct {
	StartTime time.Time
	logger    *logger.StyledLogger

	cfgStore *config.Store
	rawCfg   *config.RawConfig

	stateStore *state.Store
	retryLB    *balancer.Selector
	modelR     *modelrouter.Router
	retryEng   *retry.Engine

	metricsRegistry *metrics.Registry
	requestLog      *metrics.RequestLogObserver
	eventBus        *eventbus.EventBus[domain.RequestRecord]

	active    *control.ActiveTracker
	recent    *control.RecentRing
	overrides *control.OverrideStore

	serviceManager *services.ServiceManager
	servers        map[string]*http.Server

	errCh        chan error
	sampleCancel context.CancelFunc
}

// New builds and wires the Application but does not bind any listening
// socket or start any background service; call Start for that.
func New(startTime time.Time, log *logger.StyledLogger) (*Application, error) {
	a := &Application{
		StartTime: startTime,
		logger:    log,
		errCh:     make(chan error, 4),
		servers:   make(map[string]*http.Server),
	}

	cfgStore, rawCfg, err := config.Bootstrap(func(err error) {
		log.Error("Configuration reload failed, keeping previous snapshot", "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	a.cfgStore = cfgStore
	a.rawCfg = rawCfg

	a.stateStore = state.New()
	// drop upstream state rows for configs a hot reload removed; rows
	// for surviving (config_name, index) pairs stay, keeping cooldowns
	// and failure counts stable across reloads
	cfgStore.OnSwap = func(old, installed *domain.Snapshot) {
		if old == nil {
			return
		}
		for _, svc := range old.Services {
			for _, c := range svc.Configs {
				if !snapshotHasConfig(installed, svc.Service, c.Name) {
					a.stateStore.CleanupConfig(c.Name)
				}
			}
		}
	}
	a.modelR = modelrouter.New()
	a.retryLB = balancer.New(a.stateStore, modelrouter.Matches).WithMapper(modelrouter.MapModel)
	a.retryEng = retry.New(a.retryLB, a.stateStore)

	a.metricsRegistry = metrics.New()
	a.eventBus = eventbus.New[domain.RequestRecord]()
	writer := requestlog.New(rawCfg.RequestLog, log)
	a.requestLog = metrics.NewRequestLogObserver(writer, a.metricsRegistry, a.eventBus)

	a.active = control.NewActiveTracker()
	a.recent = control.NewRecentRing(rawCfg.Control.RecentBufferSize)
	a.overrides = control.NewOverrideStore()

	a.serviceManager = services.NewServiceManager(*log)
	if err := a.serviceManager.Register(a.requestLog); err != nil {
		return nil, fmt.Errorf("registering request log writer: %w", err)
	}
	for _, upc := range rawCfg.UsageProviders {
		poller := usage.New(upc, cfgStore, a.stateStore, log)
		if err := a.serviceManager.Register(poller); err != nil {
			return nil, fmt.Errorf("registering usage poller %s: %w", upc.ID, err)
		}
	}

	controlHandlers := control.NewHandlers(a.active, a.recent, a.overrides)
	controlHandlers.Dropped = a.requestLog.DroppedCount

	for name, svcCfg := range rawCfg.Services {
		pipeline := proxy.New(name, cfgStore, a.retryLB, a.modelR, a.retryEng, a.requestLog, a.active, a.recent, a.overrides, nil, log).
			WithIdleTimeout(time.Duration(rawCfg.Server.StreamIdleTimeoutSecs) * time.Second)

		mux := buildServiceMux(a, pipeline, controlHandlers, name)

		addr := fmt.Sprintf("%s:%d", rawCfg.Server.Host, svcCfg.Port)
		a.servers[name] = &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  time.Duration(rawCfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(rawCfg.Server.WriteTimeoutSecs) * time.Second,
		}
	}

	return a, nil
}

// Start brings up every background service (usage pollers, the request
// log writer) in dependency order, then binds every service's listen
// socket. A listener that fails after startup is logged; its error is
// not returned to the caller.
func (a *Application) Start(ctx context.Context) error {
	if err := a.serviceManager.Start(ctx); err != nil {
		return fmt.Errorf("starting background services: %w", err)
	}

	sampleCtx, cancel := context.WithCancel(ctx)
	a.sampleCancel = cancel
	go a.runSampler(sampleCtx)

	for name, server := range a.servers {
		name, server := name, server
		a.logger.Info("Starting service listener", "service", name, "addr", server.Addr)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server error", "service", name, "error", err)
				a.errCh <- err
			}
		}()
	}

	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("Service startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	a.logger.Info("Started", "services", len(a.servers))
	return nil
}

// runSampler periodically reflects upstream-state and log-writer
// counters onto the Prometheus gauges that have no natural
// change-notification of their own.
func (a *Application) runSampler(ctx context.Context) {
	ticker := time.NewTicker(usageSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.requestLog.ObserveDropped()
			metrics.SampleUsageExhausted(ctx, a.metricsRegistry, a.cfgStore.Current(), a.stateStore)
		}
	}
}

// RunTUI launches the read-only dashboard over this Application's live
// request data and blocks until the user quits it. The application's
// HTTP listeners and background services keep running underneath it.
func (a *Application) RunTUI() error {
	return tui.Run(a.active, a.recent, a.eventBus)
}

func snapshotHasConfig(snap *domain.Snapshot, service, name string) bool {
	if snap == nil {
		return false
	}
	svc := snap.Service(service)
	if svc == nil {
		return false
	}
	for _, c := range svc.Configs {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Stop shuts down every listener, stops the background sampler, then
// stops every ManagedService in reverse dependency order.
func (a *Application) Stop(ctx context.Context) error {
	if a.sampleCancel != nil {
		a.sampleCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(a.rawCfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer cancel()

	var firstErr error
	for name, server := range a.servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", "service", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := a.serviceManager.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
