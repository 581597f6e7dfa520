package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type storeHealthLabel struct {
	driver string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// media transfers, authentication decisions, and session store health. It
// coordinates concurrent writers via a RWMutex while exposing a thread-safe
// gauge for active transfer tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	transferCount    map[string]uint64
	transferBytes    map[string]uint64
	authDecisions    map[string]uint64
	rateLimited      map[string]uint64
	storeHealthValue map[string]float64
	storeHealthState map[string]string
	activeTransfers  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		transferCount:    make(map[string]uint64),
		transferBytes:    make(map[string]uint64),
		authDecisions:    make(map[string]uint64),
		rateLimited:      make(map[string]uint64),
		storeHealthValue: make(map[string]float64),
		storeHealthState: make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// TransferStarted increments the active transfer gauge before a media body is
// written.
func (r *Recorder) TransferStarted() {
	r.activeTransfers.Add(1)
}

// TransferFinished records a completed media transfer by outcome (full,
// partial, aborted, unsatisfiable) along with the bytes actually sent, and
// decrements the active transfer gauge.
func (r *Recorder) TransferFinished(outcome string, bytesSent int64) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.transferCount[normalized]++
	if bytesSent > 0 {
		r.transferBytes[normalized] += uint64(bytesSent)
	}
	r.mu.Unlock()
	r.decrementGauge(&r.activeTransfers)
}

// ObserveAuthDecision records an authentication gate decision (allow,
// challenge, not_found).
func (r *Recorder) ObserveAuthDecision(decision string) {
	normalized := normalizeName(decision)
	r.mu.Lock()
	r.authDecisions[normalized]++
	r.mu.Unlock()
}

// ObserveRateLimited records a request rejected by a rate limiter, keyed by
// limiter scope (e.g. "global", "challenge").
func (r *Recorder) ObserveRateLimited(scope string) {
	normalized := normalizeName(scope)
	r.mu.Lock()
	r.rateLimited[normalized]++
	r.mu.Unlock()
}

// SetSessionStoreHealth normalizes the session store driver identifier, maps
// status strings to numeric health values, and stores both representations for
// export.
func (r *Recorder) SetSessionStoreHealth(driver, status string) {
	normalizedDriver := normalizeName(driver)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.storeHealthValue[normalizedDriver] = value
	r.storeHealthState[normalizedDriver] = normalizedStatus
	r.mu.Unlock()
}

// ActiveTransfers exposes the current gauge of concurrently running media
// transfers.
func (r *Recorder) ActiveTransfers() int64 {
	return r.activeTransfers.Load()
}

// TransferCounts returns copies of transfer count and byte counters for
// testing and reporting purposes.
func (r *Recorder) TransferCounts() (counts map[string]uint64, bytes map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts = make(map[string]uint64, len(r.transferCount))
	for k, v := range r.transferCount {
		counts[k] = v
	}
	bytes = make(map[string]uint64, len(r.transferBytes))
	for k, v := range r.transferBytes {
		bytes[k] = v
	}
	return counts, bytes
}

// AuthDecisionCounts returns a copy of the auth decision counters.
func (r *Recorder) AuthDecisionCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decisions := make(map[string]uint64, len(r.authDecisions))
	for k, v := range r.authDecisions {
		decisions[k] = v
	}
	return decisions
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.transferCount = make(map[string]uint64)
	r.transferBytes = make(map[string]uint64)
	r.authDecisions = make(map[string]uint64)
	r.rateLimited = make(map[string]uint64)
	r.storeHealthValue = make(map[string]float64)
	r.storeHealthState = make(map[string]string)
	r.activeTransfers.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	transferOutcomes := r.sortedTransferOutcomes()
	authDecisions := sortedKeys(r.authDecisions)
	rateLimitScopes := sortedKeys(r.rateLimited)
	storeDrivers := sortedFloatKeys(r.storeHealthValue)

	fmt.Fprintln(w, "# HELP tonecrate_http_requests_total Total number of HTTP requests processed by the gateway")
	fmt.Fprintln(w, "# TYPE tonecrate_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "tonecrate_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP tonecrate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE tonecrate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "tonecrate_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP tonecrate_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE tonecrate_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "tonecrate_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP tonecrate_stream_transfers_total Media transfers by outcome")
	fmt.Fprintln(w, "# TYPE tonecrate_stream_transfers_total counter")
	for _, outcome := range transferOutcomes {
		count := r.transferCount[outcome]
		fmt.Fprintf(w, "tonecrate_stream_transfers_total{outcome=\"%s\"} %d\n", outcome, count)
	}

	fmt.Fprintln(w, "# HELP tonecrate_stream_bytes_total Media bytes served by transfer outcome")
	fmt.Fprintln(w, "# TYPE tonecrate_stream_bytes_total counter")
	for _, outcome := range transferOutcomes {
		bytes := r.transferBytes[outcome]
		fmt.Fprintf(w, "tonecrate_stream_bytes_total{outcome=\"%s\"} %d\n", outcome, bytes)
	}

	fmt.Fprintln(w, "# HELP tonecrate_active_transfers Current number of in-flight media transfers")
	fmt.Fprintln(w, "# TYPE tonecrate_active_transfers gauge")
	fmt.Fprintf(w, "tonecrate_active_transfers %d\n", r.activeTransfers.Load())

	fmt.Fprintln(w, "# HELP tonecrate_auth_decisions_total Authentication gate decisions by outcome")
	fmt.Fprintln(w, "# TYPE tonecrate_auth_decisions_total counter")
	for _, decision := range authDecisions {
		count := r.authDecisions[decision]
		fmt.Fprintf(w, "tonecrate_auth_decisions_total{decision=\"%s\"} %d\n", decision, count)
	}

	fmt.Fprintln(w, "# HELP tonecrate_rate_limited_total Requests rejected by rate limiting, by limiter scope")
	fmt.Fprintln(w, "# TYPE tonecrate_rate_limited_total counter")
	for _, scope := range rateLimitScopes {
		count := r.rateLimited[scope]
		fmt.Fprintf(w, "tonecrate_rate_limited_total{scope=\"%s\"} %d\n", scope, count)
	}

	fmt.Fprintln(w, "# HELP tonecrate_session_store_health Session store health (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE tonecrate_session_store_health gauge")
	for _, driver := range storeDrivers {
		value := r.storeHealthValue[driver]
		status := r.storeHealthState[driver]
		fmt.Fprintf(w, "tonecrate_session_store_health{driver=\"%s\",status=\"%s\"} %f\n", driver, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedTransferOutcomes() []string {
	seen := make(map[string]struct{}, len(r.transferCount)+len(r.transferBytes))
	for outcome := range r.transferCount {
		seen[outcome] = struct{}{}
	}
	for outcome := range r.transferBytes {
		seen[outcome] = struct{}{}
	}
	outcomes := make([]string, 0, len(seen))
	for outcome := range seen {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	return outcomes
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	collapse := false
	for i, part := range parts {
		if part == "" || routeSegments[part] {
			if part == "files" {
				collapse = true
			}
			continue
		}
		if collapse {
			// File paths may contain arbitrary nesting; fold them into one label.
			parts[i] = ":path"
			parts = parts[:i+1]
			break
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

var routeSegments = map[string]bool{
	"resources": true,
	"files":     true,
	"logout":    true,
	"healthz":   true,
	"metrics":   true,
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// TransferStarted increments the active transfer gauge on the default recorder.
func TransferStarted() {
	defaultRecorder.TransferStarted()
}

// TransferFinished records a completed transfer on the default recorder.
func TransferFinished(outcome string, bytesSent int64) {
	defaultRecorder.TransferFinished(outcome, bytesSent)
}

// ObserveAuthDecision records a gate decision on the default recorder.
func ObserveAuthDecision(decision string) {
	defaultRecorder.ObserveAuthDecision(decision)
}

// ObserveRateLimited records a rate limited request on the default recorder.
func ObserveRateLimited(scope string) {
	defaultRecorder.ObserveRateLimited(scope)
}

// SetSessionStoreHealth updates session store health on the default recorder.
func SetSessionStoreHealth(driver, status string) {
	defaultRecorder.SetSessionStoreHealth(driver, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
