package metrics

import (
	"context"
	"strconv"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
	"github.com/thushan/codex-helper-proxy/pkg/eventbus"
)

// RequestLogObserver decorates a RequestLogWriter so every accepted
// request's retry/outcome data also updates this process's Prometheus
// counters and is republished onto an EventBus for the TUI's live
// feed, without the pipeline or the writer itself needing to know
// metrics or the bus exist.
type RequestLogObserver struct {
	ports.RequestLogWriter
	reg *Registry
	bus *eventbus.EventBus[domain.RequestRecord]
}

func NewRequestLogObserver(inner ports.RequestLogWriter, reg *Registry, bus *eventbus.EventBus[domain.RequestRecord]) *RequestLogObserver {
	return &RequestLogObserver{RequestLogWriter: inner, reg: reg, bus: bus}
}

func (o *RequestLogObserver) Write(record domain.RequestRecord) {
	o.reg.RequestsTotal.WithLabelValues(record.Service, strconv.Itoa(record.StatusCode)).Inc()

	if record.Retry != nil {
		o.reg.RetryAttemptsTotal.WithLabelValues(record.Service).Add(float64(record.Retry.Attempts))
		for _, entry := range record.Retry.UpstreamChain {
			if entry.Sentinel != "" || !entry.Outcome.IsFailure() {
				continue
			}
			o.reg.UpstreamFailures.WithLabelValues(entry.ConfigName, string(entry.Outcome)).Inc()
		}
	}

	if o.bus != nil {
		o.bus.PublishAsync(record)
	}

	o.RequestLogWriter.Write(record)
}

// ObserveDropped copies the writer's current dropped-record count onto the
// RequestLogDropped gauge; called periodically from the application's
// background sampling loop since RequestLogWriter exposes no change
// notification of its own.
func (o *RequestLogObserver) ObserveDropped() {
	o.reg.RequestLogDropped.Set(float64(o.RequestLogWriter.DroppedCount()))
}

// SampleUsageExhausted walks every configured upstream's state and
// reflects its usage_exhausted flag onto the gauge, keyed by config
// name and upstream index. Run periodically from the application's
// background sampling loop; it reads through the same ports the
// balancer uses rather than needing its own notification channel.
func SampleUsageExhausted(ctx context.Context, reg *Registry, snapshot *domain.Snapshot, state ports.UpstreamStateStore) {
	if snapshot == nil {
		return
	}
	for _, svc := range snapshot.Services {
		for _, cfg := range svc.Configs {
			for _, u := range cfg.Upstreams {
				select {
				case <-ctx.Done():
					return
				default:
				}
				snap := state.Snapshot(u.ID())
				v := 0.0
				if snap.UsageExhausted {
					v = 1
				}
				reg.UsageExhaustedGauge.WithLabelValues(u.ConfigName, strconv.Itoa(u.Index)).Set(v)
			}
		}
	}
}
