// Package interrupt converges every shutdown source — operator signals and
// cloud preemption notices — onto a single cancellation routine. Consumers
// observe cancellation through the context returned by Start; the monitor
// itself releases the in-flight lease and runs the registered cleanup before
// declaring itself terminated.
package interrupt

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"shroud/internal/lease"
	"shroud/internal/logging"
)

// State tracks the monitor's lifecycle.
type State int32

const (
	StateRunning State = iota
	StateInterruptObserved
	StateReleasingResources
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateInterruptObserved:
		return "interrupt-observed"
	case StateReleasingResources:
		return "releasing-resources"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	tokenPath          = "/latest/api/token"
	instanceActionPath = "/latest/meta-data/spot/instance-action"
	tokenTTLHeader     = "X-aws-ec2-metadata-token-ttl-seconds"
	tokenHeader        = "X-aws-ec2-metadata-token"
	metadataTimeout    = 2 * time.Second
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetadataEndpoint points the preemption poll at a metadata service.
// Empty disables polling.
func WithMetadataEndpoint(endpoint string) Option {
	return func(m *Monitor) {
		m.endpoint = endpoint
	}
}

// WithPollInterval overrides how often the preemption notice is checked.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithHTTPClient overrides the metadata HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Monitor) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithCleanup registers a hook that runs after the current lease is
// released, before the monitor terminates.
func WithCleanup(cleanup func(ctx context.Context)) Option {
	return func(m *Monitor) {
		m.cleanup = cleanup
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSignals overrides which OS signals trigger shutdown. Passing none
// disables signal handling.
func WithSignals(signals ...os.Signal) Option {
	return func(m *Monitor) {
		m.signals = signals
	}
}

// Monitor owns the shutdown path of a worker instance.
type Monitor struct {
	leases       *lease.Manager
	endpoint     string
	pollInterval time.Duration
	httpClient   *http.Client
	cleanup      func(ctx context.Context)
	logger       *slog.Logger
	signals      []os.Signal

	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	stopped chan struct{}

	mu      sync.Mutex
	current *lease.Lease
}

// NewMonitor constructs a monitor over the given lease manager.
func NewMonitor(leases *lease.Manager, opts ...Option) *Monitor {
	m := &Monitor{
		leases:       leases,
		pollInterval: 30 * time.Second,
		httpClient:   &http.Client{Timeout: metadataTimeout},
		logger:       logging.NewNop(),
		signals:      []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins watching for shutdown causes and returns the context whose
// cancellation signals "stop taking new work, stop at the next safe point".
func (m *Monitor) Start(parent context.Context) context.Context {
	m.ctx, m.cancel = context.WithCancel(parent)

	if len(m.signals) > 0 {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, m.signals...)
		go func() {
			select {
			case sig := <-ch:
				signal.Stop(ch)
				m.Trigger("signal " + sig.String())
			case <-m.stopped:
				signal.Stop(ch)
			}
		}()
	}

	if m.endpoint != "" {
		go m.poll()
	}
	return m.ctx
}

// Context returns the cancellation context. Valid after Start.
func (m *Monitor) Context() context.Context {
	return m.ctx
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// SetCurrentLease records which lease the worker is actively processing so
// an interrupt can release it first. Pass nil when no item is in flight.
func (m *Monitor) SetCurrentLease(current *lease.Lease) {
	m.mu.Lock()
	m.current = current
	m.mu.Unlock()
}

// Stop shuts the monitor down without treating it as an interruption. Used
// when the worker exits on its own.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.stopped)
		if m.cancel != nil {
			m.cancel()
		}
		m.state.Store(int32(StateTerminated))
	})
}

// Trigger runs the full interruption sequence exactly once: observe, cancel
// the work context, release held resources, run cleanup, terminate.
func (m *Monitor) Trigger(reason string) {
	m.once.Do(func() {
		m.state.Store(int32(StateInterruptObserved))
		m.logger.Warn("interruption observed",
			logging.String(logging.FieldComponent, "interrupt"),
			logging.String("reason", reason))
		close(m.stopped)
		m.cancel()

		m.state.Store(int32(StateReleasingResources))
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer releaseCancel()

		m.mu.Lock()
		current := m.current
		m.current = nil
		m.mu.Unlock()
		if current != nil {
			if err := m.leases.Release(releaseCtx, current); err != nil {
				m.logger.Error("failed to release in-flight lease",
					logging.String(logging.FieldComponent, "interrupt"),
					logging.String(logging.FieldItemKey, current.ItemKey),
					logging.Error(err))
			}
		}
		if m.cleanup != nil {
			m.cleanup(releaseCtx)
		}

		m.state.Store(int32(StateTerminated))
		m.logger.Info("shutdown sequence complete",
			logging.String(logging.FieldComponent, "interrupt"))
	})
}

// poll checks the instance metadata service for a preemption notice until
// the monitor stops. Lookup failures are expected off-cloud and ignored.
func (m *Monitor) poll() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
			if m.preemptionNoticed() {
				m.Trigger("preemption notice")
				return
			}
		}
	}
}

// preemptionNoticed performs one token-authenticated metadata lookup. Any
// 2xx answer on the instance-action path means the machine is going away.
func (m *Monitor) preemptionNoticed() bool {
	tokenReq, err := http.NewRequest(http.MethodPut, m.endpoint+tokenPath, nil)
	if err != nil {
		return false
	}
	tokenReq.Header.Set(tokenTTLHeader, "21600")
	tokenResp, err := m.httpClient.Do(tokenReq)
	if err != nil {
		return false
	}
	token, err := io.ReadAll(io.LimitReader(tokenResp.Body, 4096))
	_ = tokenResp.Body.Close()
	if err != nil || tokenResp.StatusCode != http.StatusOK {
		return false
	}

	actionReq, err := http.NewRequest(http.MethodGet, m.endpoint+instanceActionPath, nil)
	if err != nil {
		return false
	}
	actionReq.Header.Set(tokenHeader, string(token))
	actionResp, err := m.httpClient.Do(actionReq)
	if err != nil {
		return false
	}
	defer func() { _ = actionResp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(actionResp.Body, 4096))
	return actionResp.StatusCode >= 200 && actionResp.StatusCode < 300
}
