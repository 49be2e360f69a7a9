// Package reporter is the component-side client of the bridge. A processing
// plant embeds a Reporter to push its topology, metrics, notifications, task
// reports and subscription summaries.
package reporter

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpcbackoff "google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xiaonanln/oambridge/bridgeapi"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/util/backoff"
	errutil "github.com/xiaonanln/oambridge/util/errors"
	"github.com/xiaonanln/oambridge/util/logger"
)

const (
	defaultHealthCheckInterval = 5 * time.Second

	// DefaultConnectionTimeout bounds gRPC connection establishment.
	DefaultConnectionTimeout = 30 * time.Second

	rpcTimeout = 5 * time.Second
)

// ErrNotConnected is returned by report methods while the bridge is unreachable.
var ErrNotConnected = errors.New("reporter: not connected to bridge")

// Reporter manages the connection to the bridge and re-sends the last known
// topology after every reconnect.
type Reporter struct {
	bridgeAddress       string
	caller              bridgeapi.Caller
	healthCheckInterval time.Duration
	logger              *logger.Logger

	mu          sync.Mutex
	conn        *grpc.ClientConn
	client      *bridgeapi.Client
	connected   bool
	started     bool
	topology    []model.ComponentSummary
	retry       *backoff.Backoff
	nextAttempt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Reporter for caller. An empty bridgeAddress disables it.
func New(bridgeAddress string, caller bridgeapi.Caller) *Reporter {
	return &Reporter{
		bridgeAddress:       bridgeAddress,
		caller:              caller,
		healthCheckInterval: defaultHealthCheckInterval,
		logger:              logger.NewLogger("Reporter"),
		retry:               backoff.New(time.Second, time.Minute, 2).WithJitter(0.2),
	}
}

// SetHealthCheckInterval must be called before Start.
func (r *Reporter) SetHealthCheckInterval(interval time.Duration) {
	r.healthCheckInterval = interval
}

// IsEnabled reports whether a bridge address is configured.
func (r *Reporter) IsEnabled() bool {
	return r.bridgeAddress != ""
}

// IsConnected reports whether the last ping succeeded.
func (r *Reporter) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Start connects to the bridge and starts the management loop. It is a no-op
// when disabled or already started; a failed first connection is retried in
// the background.
func (r *Reporter) Start(ctx context.Context) error {
	if !r.IsEnabled() {
		return nil
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	if err := r.connectLocked(); err != nil {
		r.logger.Warnf("Failed initial connection to bridge at %s: %v (will retry in background)", r.bridgeAddress, err)
		r.scheduleRetryLocked()
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.managementLoop()
	return nil
}

// Stop ends the management loop and closes the connection. Start may be
// called again afterwards.
func (r *Reporter) Stop() error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnectLocked()
	r.started = false
	return nil
}

func (r *Reporter) connectLocked() error {
	conn, err := grpc.NewClient(r.bridgeAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           grpcbackoff.DefaultConfig,
			MinConnectTimeout: DefaultConnectionTimeout,
		}),
	)
	if err != nil {
		return err
	}
	client := bridgeapi.NewClient(conn, r.caller)

	ctx, cancel := context.WithTimeout(r.ctx, rpcTimeout)
	defer cancel()
	if _, err := client.Ping(ctx); err != nil {
		conn.Close()
		return err
	}

	r.conn = conn
	r.client = client
	r.connected = true
	r.retry.Reset()
	r.logger.Infof("Connected to bridge at %s", r.bridgeAddress)

	if len(r.topology) > 0 {
		if err := r.sendTopologyLocked(); err != nil {
			r.logger.Warnf("Failed to re-send topology after connect: %v", err)
		}
	}
	return nil
}

func (r *Reporter) disconnectLocked() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.client = nil
	r.connected = false
}

func (r *Reporter) scheduleRetryLocked() {
	r.nextAttempt = time.Now().Add(r.retry.Next())
}

func (r *Reporter) managementLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.healthCheckInterval)
	defer ticker.Stop()

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.healthCheck()
		}
	}
}

// healthCheck pings the bridge and reconnects when the ping fails. While
// disconnected, reconnect attempts are spaced by the retry backoff.
func (r *Reporter) healthCheck() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		if time.Now().Before(r.nextAttempt) {
			return
		}
		r.logger.Infof("Attempting to reconnect to bridge...")
		if err := r.connectLocked(); err != nil {
			r.logger.Warnf("Reconnection failed: %v (will retry)", err)
			r.scheduleRetryLocked()
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, rpcTimeout)
	defer cancel()
	if _, err := r.client.Ping(ctx); err != nil {
		r.logger.Warnf("Bridge health check failed: %v (will attempt reconnect)", err)
		r.disconnectLocked()
		if err := r.connectLocked(); err != nil {
			r.logger.Warnf("Immediate reconnection failed: %v (will retry)", err)
			r.scheduleRetryLocked()
		}
	}
}

// call runs fn against the connected client with the per-RPC deadline.
func (r *Reporter) call(fn func(ctx context.Context, c *bridgeapi.Client) error) error {
	if !r.IsEnabled() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected || r.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(r.ctx, rpcTimeout)
	defer cancel()
	err := fn(ctx, r.client)
	if errutil.IsUnavailable(err) {
		r.logger.Warnf("Bridge unreachable: %v (will reconnect)", err)
		r.disconnectLocked()
		r.scheduleRetryLocked()
	}
	return err
}

func (r *Reporter) sendTopologyLocked() error {
	ctx, cancel := context.WithTimeout(r.ctx, rpcTimeout)
	defer cancel()
	_, err := r.client.MergeRemoteTopologyGraph(ctx, r.topology)
	return err
}

// ReportTopology records plants as this component's complete topology and
// sends it if connected. The latest topology is re-sent after every reconnect.
func (r *Reporter) ReportTopology(plants ...model.ComponentSummary) error {
	r.mu.Lock()
	r.topology = make([]model.ComponentSummary, len(plants))
	for i, p := range plants {
		r.topology[i] = p.Clone()
	}
	r.mu.Unlock()

	return r.call(func(ctx context.Context, c *bridgeapi.Client) error {
		_, err := c.MergeRemoteTopologyGraph(ctx, r.topology)
		return err
	})
}

func (r *Reporter) ReportMetrics(set *model.MetricSet) error {
	return r.call(func(ctx context.Context, c *bridgeapi.Client) error {
		_, err := c.CaptureMetrics(ctx, set)
		return err
	})
}

func (r *Reporter) ReportMetric(sample bridgeapi.MetricSample) error {
	return r.call(func(ctx context.Context, c *bridgeapi.Client) error {
		_, err := c.CaptureMetric(ctx, sample)
		return err
	})
}

func (r *Reporter) Notify(n model.Notification) error {
	return r.call(func(ctx context.Context, c *bridgeapi.Client) error {
		_, err := c.ProcessNotification(ctx, n)
		return err
	})
}

func (r *Reporter) ReportTask(report model.TaskReport) error {
	return r.call(func(ctx context.Context, c *bridgeapi.Client) error {
		_, err := c.ProcessTaskReport(ctx, report)
		return err
	})
}

func (r *Reporter) ShareSubscriptions(summary model.SubscriptionSummary) error {
	return r.call(func(ctx context.Context, c *bridgeapi.Client) error {
		_, err := c.ShareSubscriptionSummaryReport(ctx, summary)
		return err
	})
}
