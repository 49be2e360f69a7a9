// Package leaderelection elects, through etcd, the one bridge replica that
// is allowed to create rooms. It satisfies provisioner.LeadershipGate.
package leaderelection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/xiaonanln/oambridge/util/logger"
)

// DefaultSessionTTL is the default TTL for the etcd session in seconds
const DefaultSessionTTL = 10

// LeaderElection campaigns for a key prefix and tracks who holds it.
type LeaderElection struct {
	client *clientv3.Client
	nodeID string
	prefix string
	ttl    int
	logger *logger.Logger

	isLeader atomic.Bool

	mu            sync.RWMutex
	session       *concurrency.Session
	election      *concurrency.Election
	currentLeader string
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewLeaderElection creates a LeaderElection for nodeID under prefix. ttl is
// the session lease in seconds; values <= 0 select DefaultSessionTTL.
func NewLeaderElection(client *clientv3.Client, prefix string, nodeID string, ttl int) (*LeaderElection, error) {
	if client == nil {
		return nil, fmt.Errorf("etcd client cannot be nil")
	}
	if nodeID == "" {
		return nil, fmt.Errorf("nodeID cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &LeaderElection{
		client: client,
		nodeID: nodeID,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.NewLogger("LeaderElection"),
	}, nil
}

// Start opens the etcd session, starts observing the leader key and
// campaigns in the background. When the session expires the replica stops
// being leader and campaigns again on a fresh session.
func (le *LeaderElection) Start(ctx context.Context) error {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.cancel != nil {
		return nil
	}
	if err := le.newSessionLocked(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	le.cancel = cancel

	le.wg.Add(1)
	go le.run(runCtx)
	le.logger.Infof("LeaderElection started for node %s (prefix %s, TTL %ds)", le.nodeID, le.prefix, le.ttl)
	return nil
}

func (le *LeaderElection) newSessionLocked() error {
	session, err := concurrency.NewSession(le.client, concurrency.WithTTL(le.ttl))
	if err != nil {
		return fmt.Errorf("failed to create etcd session with TTL %d: %w", le.ttl, err)
	}
	le.session = session
	le.election = concurrency.NewElection(session, le.prefix)
	return nil
}

// run campaigns and observes until ctx ends, renewing the session when it
// is lost.
func (le *LeaderElection) run(ctx context.Context) {
	defer le.wg.Done()
	for {
		le.mu.RLock()
		session, election := le.session, le.election
		le.mu.RUnlock()

		sessionCtx, stop := context.WithCancel(ctx)
		var inner sync.WaitGroup
		inner.Add(2)
		go func() {
			defer inner.Done()
			le.observe(sessionCtx, election)
		}()
		go func() {
			defer inner.Done()
			le.campaign(sessionCtx, election)
		}()

		select {
		case <-ctx.Done():
			stop()
			inner.Wait()
			return
		case <-session.Done():
			stop()
			inner.Wait()
		}

		le.setLeader("")
		le.logger.Warnf("etcd session for node %s expired, campaigning again", le.nodeID)
		le.mu.Lock()
		err := le.newSessionLocked()
		le.mu.Unlock()
		if err != nil {
			le.logger.Errorf("Failed to renew etcd session: %v", err)
			return
		}
	}
}

func (le *LeaderElection) campaign(ctx context.Context, election *concurrency.Election) {
	le.logger.Infof("Node %s campaigning for provisioning leadership", le.nodeID)
	err := election.Campaign(ctx, le.nodeID)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			le.logger.Errorf("Campaign failed: %v", err)
		}
		return
	}
	le.setLeader(le.nodeID)
}

func (le *LeaderElection) observe(ctx context.Context, election *concurrency.Election) {
	for resp := range election.Observe(ctx) {
		var leader string
		if len(resp.Kvs) > 0 {
			leader = string(resp.Kvs[0].Value)
		}
		le.setLeader(leader)
	}
}

// setLeader records the observed leader and derives local leadership from it.
func (le *LeaderElection) setLeader(leader string) {
	le.mu.Lock()
	old := le.currentLeader
	le.currentLeader = leader
	le.mu.Unlock()

	now := leader != "" && leader == le.nodeID
	was := le.isLeader.Swap(now)
	if old != leader {
		le.logger.Infof("Provisioning leader changed from %q to %q", old, leader)
	}
	switch {
	case now && !was:
		le.logger.Infof("Node %s became provisioning leader", le.nodeID)
	case was && !now:
		le.logger.Infof("Node %s lost provisioning leadership", le.nodeID)
	}
}

// IsLeader reports whether this replica may create rooms.
func (le *LeaderElection) IsLeader() bool {
	return le.isLeader.Load()
}

// GetLeader returns the node ID of the current leader, or "" if none is known.
func (le *LeaderElection) GetLeader() string {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.currentLeader
}

// Resign steps down if this replica is leader.
func (le *LeaderElection) Resign(ctx context.Context) error {
	le.mu.RLock()
	election := le.election
	le.mu.RUnlock()
	if election == nil {
		return fmt.Errorf("election not initialized")
	}
	if !le.isLeader.Load() {
		return nil
	}
	if err := election.Resign(ctx); err != nil {
		return fmt.Errorf("resign failed: %w", err)
	}
	le.isLeader.Store(false)
	le.logger.Infof("Node %s resigned from provisioning leadership", le.nodeID)
	return nil
}

// Close stops campaigning and revokes the session lease.
func (le *LeaderElection) Close() error {
	le.mu.Lock()
	cancel := le.cancel
	le.cancel = nil
	le.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	le.wg.Wait()
	le.isLeader.Store(false)

	le.mu.Lock()
	defer le.mu.Unlock()
	if le.session != nil {
		if err := le.session.Close(); err != nil {
			le.logger.Warnf("Failed to close session: %v", err)
			return err
		}
		le.session = nil
	}
	le.logger.Infof("LeaderElection closed for node %s", le.nodeID)
	return nil
}
