package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thushan/codex-helper-proxy/internal/adapter/control"
	"github.com/thushan/codex-helper-proxy/internal/adapter/retry"
	"github.com/thushan/codex-helper-proxy/internal/config"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
	"github.com/thushan/codex-helper-proxy/internal/logger"
)

const (
	connectTimeout     = 10 * time.Second
	responseHeadTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
)

// Pipeline orchestrates one service's listen surface: request intake,
// upstream attempts through the retry engine, and the response bridge
// back to the client.
type Pipeline struct {
	Service     string
	Store       *config.Store
	LB          ports.LoadBalancer
	Router      ports.ModelRouter
	RetryEngine ports.RetryEngine
	RequestLog  ports.RequestLogWriter
	Active      *control.ActiveTracker
	Recent      *control.RecentRing
	Overrides   *control.OverrideStore
	BodyFilter  ports.BodyFilter
	Log         *logger.StyledLogger

	client      *http.Client
	idleTimeout time.Duration
}

func New(service string, store *config.Store, lb ports.LoadBalancer, router ports.ModelRouter, retryEngine ports.RetryEngine, requestLog ports.RequestLogWriter, active *control.ActiveTracker, recent *control.RecentRing, overrides *control.OverrideStore, bodyFilter ports.BodyFilter, log *logger.StyledLogger) *Pipeline {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: responseHeadTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Pipeline{
		Service:     service,
		Store:       store,
		LB:          lb,
		RetryEngine: retryEngine,
		Router:      router,
		RequestLog:  requestLog,
		Active:      active,
		Recent:      recent,
		Overrides:   overrides,
		BodyFilter:  bodyFilter,
		Log:         log,
		client:      &http.Client{Transport: transport},
		idleTimeout: defaultIdleTimeout,
	}
}

// WithIdleTimeout overrides the per-chunk streaming idle timeout.
// Non-positive values keep the default. Returns the same *Pipeline for
// chaining at construction.
func (p *Pipeline) WithIdleTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.idleTimeout = d
	}
	return p
}

// attemptState is what each Do invocation leaves behind for the final
// response decision and for the request record, since
// ports.AttemptOutcome carries only classification metadata.
type attemptState struct {
	upstream       *domain.Upstream
	authSite       string
	committed      bool
	bufferedStatus int
	bufferedHeader http.Header
	bufferedBody   []byte
	usage          *domain.Usage
	streamDisconn  bool
	reportStatus   int // overrides the status recorded in the log, e.g. 499 on client disconnect
}

// ServeHTTP proxies any request not under the control path prefix.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	start := time.Now()
	startMs := start.UnixMilli()

	defer func() {
		if rec := recover(); rec != nil {
			p.Log.Error("panic while handling request", "panic", rec, "method", r.Method, "path", r.URL.Path)
			http.Error(w, "internal error", http.StatusInternalServerError)
			// the normal record emission at the end of ServeHTTP was
			// skipped by the panic; still account for the request
			p.logImmediate(requestID, r, startMs, start, http.StatusInternalServerError)
		}
	}()

	snapshot := p.Store.Current()
	svc := snapshot.Service(p.Service)

	if svc == nil || svc.ActiveConfig == "" {
		p.respondConfigError(w, requestID, r, startMs, start)
		return
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody+1))
	if err != nil {
		p.respondClientError(w, requestID, r, startMs, start, http.StatusBadRequest, "body_read_failed")
		return
	}
	if int64(len(bodyBytes)) > maxBufferedBody {
		p.respondClientError(w, requestID, r, startMs, start, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}

	if p.BodyFilter != nil {
		bodyBytes = p.BodyFilter(bodyBytes)
	}

	fields := parseTopLevelFields(bodyBytes)
	model := fields["model"]
	sessionID := fields["session_id"]
	cwd := fields["cwd"]
	reasoningEffort := fields["reasoning_effort"]

	var override *domain.SessionOverride
	if sessionID != "" && p.Overrides != nil {
		override = p.Overrides.Get(sessionID)
	}
	if override != nil && override.ReasoningEffort != nil {
		reasoningEffort = *override.ReasoningEffort
	}
	if override != nil && override.ConfigName != nil {
		snapshot = withOverrideActiveConfig(snapshot, p.Service, *override.ConfigName)
		svc = snapshot.Service(p.Service)
	}

	active := &domain.ActiveRequest{
		RequestID: requestID,
		Service:   p.Service,
		SessionID: sessionID,
		Model:     model,
		StartMs:   startMs,
	}
	p.Active.Start(active)
	defer p.Active.Finish(requestID)

	var last attemptState

	attemptReq := &ports.AttemptRequest{
		Snapshot: snapshot,
		Service:  p.Service,
		Model:    model,
		Do: func(ctx context.Context, u *domain.Upstream) (*ports.AttemptOutcome, error) {
			p.Active.SetUpstream(requestID, u.ConfigName, u.BaseURL)
			return p.doAttempt(ctx, r, u, bodyBytes, w, &last)
		},
	}

	result, _ := p.RetryEngine.Execute(r.Context(), attemptReq)

	status, configName, baseURL := p.finalise(w, result, &last)

	duration := time.Since(start)

	providerID := (*string)(nil)
	if last.upstream != nil {
		if pid := last.upstream.ProviderID(); pid != "" {
			providerID = &pid
		}
	}

	rec := domain.RequestRecord{
		RequestID:        requestID,
		Service:          p.Service,
		Method:           r.Method,
		Path:             r.URL.Path,
		ConfigName:       configName,
		UpstreamBaseURL:  baseURL,
		ProviderID:       providerID,
		SessionID:        nonEmptyPtr(sessionID),
		Cwd:              nonEmptyPtr(cwd),
		ReasoningEffort:  nonEmptyPtr(reasoningEffort),
		Usage:            last.usage,
		TimestampMs:      startMs,
		DurationMs:       duration.Milliseconds(),
		StatusCode:       status,
		StreamDisconnect: last.streamDisconn,
	}
	// "retry" is included only when a retry genuinely occurred (more
	// than one chain entry) or the sole entry is the NoEligible
	// sentinel; a lone, successful first attempt omits it.
	if result != nil {
		chain := result.Retry.UpstreamChain
		if len(chain) > 1 || (len(chain) == 1 && chain[0].Sentinel != "") {
			retryInfo := result.Retry
			rec.Retry = &retryInfo
		}
	}
	if last.authSite != "" {
		rec.HTTPDebug = &domain.HTTPDebug{AuthResolution: last.authSite}
	}

	p.Recent.Add(rec)
	if p.RequestLog != nil {
		p.RequestLog.Write(rec)
	}
}

// doAttempt performs one upstream round trip, classifies the outcome
// and, for a final/committed outcome, writes the response to the
// client directly (buffered non-2xx responses are stashed in state
// instead, so the pipeline can forward them verbatim only once the
// retry engine has decided not to retry further).
func (p *Pipeline) doAttempt(ctx context.Context, r *http.Request, u *domain.Upstream, body []byte, w http.ResponseWriter, state *attemptState) (*ports.AttemptOutcome, error) {
	rewritten := p.Router.Rewrite(body, u.ModelMapping)

	targetURL, err := joinUpstreamURL(u.BaseURL, r.URL.Path, r.URL.RawQuery)
	if err != nil {
		return &ports.AttemptOutcome{Class: domain.ClassUpstreamTransportError}, err
	}

	token, authSite := config.ResolveAuth(u)

	outReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL, bytes.NewReader(rewritten))
	if err != nil {
		return &ports.AttemptOutcome{Class: domain.ClassUpstreamTransportError}, err
	}
	outReq.Header = buildUpstreamHeaders(r.Header, token, u.RequiresOpenAIAuth, r.Header.Get("Authorization"))
	outReq.ContentLength = int64(len(rewritten))

	state.upstream = u
	state.authSite = authSite

	resp, err := p.client.Do(outReq)
	if err != nil {
		p.Log.ErrorWithEndpoint("upstream request failed", u.BaseURL, "error", err)
		return &ports.AttemptOutcome{Class: retry.Classify(err)}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buffered, readErr := bufferNon2xx(resp.Body)
		state.bufferedStatus = resp.StatusCode
		state.bufferedHeader = resp.Header.Clone()
		state.bufferedBody = buffered
		state.committed = false

		class := domain.ClassHTTPStatus
		switch {
		case retry.IsCloudflareTimeout(resp.StatusCode):
			class = domain.ClassCloudflareTimeout
		case retry.IsCloudflareChallenge(resp.StatusCode, buffered):
			class = domain.ClassCloudflareChallenge
		}
		p.Log.WarnWithEndpoint("upstream returned non-2xx", u.BaseURL, "status", resp.StatusCode, "class", string(class))
		return &ports.AttemptOutcome{
			Class:      class,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Committed:  false,
		}, readErr
	}

	// 2xx: committing now, so no further retry is possible regardless
	// of what happens next.
	p.Log.InfoWithEndpoint("upstream responded", u.BaseURL, "status", resp.StatusCode)
	state.committed = true
	contentType := resp.Header.Get("Content-Type")

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if isEventStream(contentType) {
		flusher, _ := w.(http.Flusher)
		sr := streamSSE(ctx, w, flusher, resp.Body, p.idleTimeout)
		state.usage = mergeUsage(state.usage, sr.usage)
		state.streamDisconn = sr.disconnected
		if sr.clientDisconnect {
			// client disconnect is reported as 499, not the upstream's
			// original 2xx, even though the attempt still counts as a
			// stream disconnect for cooldown purposes.
			state.reportStatus = 499
		}
		if sr.disconnected {
			return &ports.AttemptOutcome{Class: domain.ClassStreamDisconnect, StatusCode: resp.StatusCode, Committed: true}, nil
		}
		return &ports.AttemptOutcome{Class: domain.ClassSuccess2xx, StatusCode: resp.StatusCode, Committed: true}, nil
	}

	defer resp.Body.Close()
	full, _ := io.ReadAll(resp.Body)
	_, _ = w.Write(full)
	state.usage = mergeUsage(state.usage, extractUsage(full))
	return &ports.AttemptOutcome{Class: domain.ClassSuccess2xx, StatusCode: resp.StatusCode, Committed: true}, nil
}

// finalise decides what (if anything) still needs to be written to the
// client once the retry engine has returned its verdict, and reports
// the status/config/base-url that should land on the request record.
func (p *Pipeline) finalise(w http.ResponseWriter, result *ports.AttemptResult, state *attemptState) (status int, configName, baseURL string) {
	if state.upstream != nil {
		configName = state.upstream.ConfigName
		baseURL = state.upstream.BaseURL
	}

	if result == nil || result.Final == nil {
		// no eligible upstream at all, even after fallback
		p.Log.Error("no eligible upstream for service", "service", p.Service)
		writeJSONError(w, http.StatusServiceUnavailable, "no_eligible_upstream", "no eligible upstream for this service")
		return http.StatusServiceUnavailable, configName, baseURL
	}

	if state.committed {
		if state.reportStatus != 0 {
			return state.reportStatus, configName, baseURL
		}
		return result.Final.StatusCode, configName, baseURL
	}

	// Final outcome was a buffered non-2xx response not worth retrying
	// further: forward it to the client verbatim now.
	for k, vals := range state.bufferedHeader {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	status = state.bufferedStatus
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	_, _ = w.Write(state.bufferedBody)
	return status, configName, baseURL
}

func (p *Pipeline) respondConfigError(w http.ResponseWriter, requestID string, r *http.Request, startMs int64, start time.Time) {
	writeJSONError(w, http.StatusServiceUnavailable, "no_active_config", "service has no active config")
	p.logImmediate(requestID, r, startMs, start, http.StatusServiceUnavailable)
}

func (p *Pipeline) respondClientError(w http.ResponseWriter, requestID string, r *http.Request, startMs int64, start time.Time, status int, reason string) {
	writeJSONError(w, status, reason, reason)
	p.logImmediate(requestID, r, startMs, start, status)
}

func (p *Pipeline) logImmediate(requestID string, r *http.Request, startMs int64, start time.Time, status int) {
	rec := domain.RequestRecord{
		RequestID:   requestID,
		Service:     p.Service,
		Method:      r.Method,
		Path:        r.URL.Path,
		TimestampMs: startMs,
		DurationMs:  time.Since(start).Milliseconds(),
		StatusCode:  status,
	}
	p.Recent.Add(rec)
	if p.RequestLog != nil {
		p.RequestLog.Write(rec)
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode, "detail": detail})
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vals := range src {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

// parseTopLevelFields extracts the handful of top-level string fields
// the pipeline needs for routing and telemetry without building a full
// DOM of the (possibly large) request body.
func parseTopLevelFields(body []byte) map[string]string {
	out := map[string]string{}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return out
	}
	for _, key := range []string{"model", "session_id", "cwd", "reasoning_effort"} {
		if v, ok := parsed[key].(string); ok {
			out[key] = v
		}
	}
	return out
}

// parseRetryAfter understands the delay-seconds form only; an HTTP-date
// value is ignored and the policy's own backoff applies instead.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// withOverrideActiveConfig returns a shallow copy of snapshot with the
// named service's ActiveConfig swapped to cfgName for the duration of
// this request only; it never mutates the shared snapshot.
func withOverrideActiveConfig(snapshot *domain.Snapshot, service, cfgName string) *domain.Snapshot {
	svc := snapshot.Service(service)
	if svc == nil {
		return snapshot
	}
	found := false
	for _, c := range svc.Configs {
		if c.Name == cfgName {
			found = true
			break
		}
	}
	if !found {
		return snapshot
	}

	svcCopy := *svc
	svcCopy.ActiveConfig = cfgName

	servicesCopy := make(map[string]*domain.ServiceSnapshot, len(snapshot.Services))
	for k, v := range snapshot.Services {
		servicesCopy[k] = v
	}
	servicesCopy[service] = &svcCopy

	snapCopy := *snapshot
	snapCopy.Services = servicesCopy
	return &snapCopy
}
