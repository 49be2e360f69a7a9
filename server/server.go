// Package server composes the bridge: telemetry stores, room resolution and
// provisioning, the forwarder daemons, the inbound gRPC service and the HTTP
// status surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/xiaonanln/oambridge/bridgeapi"
	"github.com/xiaonanln/oambridge/chat"
	"github.com/xiaonanln/oambridge/chat/matrix"
	"github.com/xiaonanln/oambridge/cluster/leaderelection"
	"github.com/xiaonanln/oambridge/config"
	"github.com/xiaonanln/oambridge/escalation"
	"github.com/xiaonanln/oambridge/forwarder"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/receiver"
	"github.com/xiaonanln/oambridge/room/provisioner"
	"github.com/xiaonanln/oambridge/room/resolver"
	"github.com/xiaonanln/oambridge/scheduler"
	"github.com/xiaonanln/oambridge/store/metricsstore"
	"github.com/xiaonanln/oambridge/store/reportqueue"
	"github.com/xiaonanln/oambridge/store/subscriptionstore"
	"github.com/xiaonanln/oambridge/store/topologystore"
	"github.com/xiaonanln/oambridge/util/logger"
)

const (
	shutdownTimeout   = 5 * time.Second
	etcdDialTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Option customizes a Server.
type Option func(*options)

type options struct {
	backend   chat.Backend
	escalator escalation.Escalator
	etcd      *clientv3.Client
}

// WithBackend replaces the Matrix client built from the chat configuration.
func WithBackend(b chat.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithEscalator enables escalation through e regardless of the escalation
// configuration.
func WithEscalator(e escalation.Escalator) Option {
	return func(o *options) { o.escalator = e }
}

// WithEtcdClient supplies the etcd client used for provisioning leader
// election. The server does not close it.
func WithEtcdClient(cli *clientv3.Client) Option {
	return func(o *options) { o.etcd = cli }
}

// Server is one bridge replica.
type Server struct {
	cfg    *config.Config
	logger *logger.Logger

	stores      receiver.Stores
	backend     chat.Backend
	resolver    *resolver.Resolver
	provisioner *provisioner.Provisioner
	dispatcher  *escalation.Dispatcher
	scheduler   *scheduler.Scheduler
	topologyFwd *forwarder.TopologyForwarder

	etcd     *clientv3.Client
	ownsEtcd bool
	election *leaderelection.LeaderElection

	mu         sync.Mutex
	started    bool
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	wg         sync.WaitGroup
}

// NewServer validates cfg and builds every component. Nothing listens until
// Start.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.NewLogger("Server"),
		stores: receiver.Stores{
			Topology:      topologystore.New(),
			Metrics:       metricsstore.New(),
			Notifications: reportqueue.New[model.Notification]("notifications"),
			TaskReports:   reportqueue.New[model.TaskReport]("task-reports"),
			Subscriptions: subscriptionstore.New(),
		},
		backend:   o.backend,
		scheduler: scheduler.New(),
	}
	if s.backend == nil {
		s.backend = matrix.New(matrix.Config{
			HomeserverURL:  cfg.Chat.HomeserverURL,
			ServerName:     cfg.Chat.ServerName,
			AccessToken:    cfg.Chat.AccessToken,
			RequestTimeout: cfg.Chat.RequestTimeout,
			Preset:         cfg.Chat.Preset,
		})
	}

	provOpts := []provisioner.Option{provisioner.WithPreset(cfg.Chat.Preset)}
	if cfg.Election.Enabled {
		if err := s.setupElection(o.etcd); err != nil {
			return nil, err
		}
		provOpts = append(provOpts, provisioner.WithLeadershipGate(s.election))
	}
	s.resolver = resolver.New(s.backend, cfg.Chat.ServerName, cfg.Bridge.RoomListRefresh)
	s.provisioner = provisioner.New(s.backend, s.resolver, provOpts...)

	var sink forwarder.EscalationSink
	if esc := s.escalator(o.escalator); esc != nil {
		s.dispatcher = escalation.NewDispatcher(esc, escalation.DefaultPolicy(), cfg.Escalation.Timeout)
		sink = s.dispatcher
	}

	if err := s.registerDaemons(sink); err != nil {
		s.closeEtcd()
		return nil, err
	}
	return s, nil
}

func (s *Server) setupElection(cli *clientv3.Client) error {
	ec := s.cfg.Election
	if cli == nil {
		var err error
		cli, err = clientv3.New(clientv3.Config{Endpoints: ec.Endpoints, DialTimeout: etcdDialTimeout})
		if err != nil {
			return fmt.Errorf("failed to connect to etcd: %w", err)
		}
		s.ownsEtcd = true
	}
	s.etcd = cli
	election, err := leaderelection.NewLeaderElection(cli, ec.Prefix, ec.NodeID, ec.SessionTTL)
	if err != nil {
		s.closeEtcd()
		return fmt.Errorf("failed to create leader election: %w", err)
	}
	s.election = election
	return nil
}

func (s *Server) escalator(override escalation.Escalator) escalation.Escalator {
	if override != nil {
		return override
	}
	ec := s.cfg.Escalation
	if !ec.Enabled {
		return nil
	}
	return escalation.NewSMTPEscalator(escalation.SMTPConfig{
		Host:            ec.SMTPHost,
		Port:            strconv.Itoa(ec.SMTPPort),
		User:            ec.User,
		Password:        ec.Password,
		From:            ec.From,
		FromName:        ec.FromName,
		EmailRecipients: ec.EmailRecipients,
		SMSRecipients:   ec.SMSRecipients,
	})
}

func (s *Server) registerDaemons(sink forwarder.EscalationSink) error {
	fopts := forwarder.Options{SenderID: s.cfg.Bridge.SenderID, PostTimeout: s.cfg.Bridge.PostTimeout}
	s.topologyFwd = forwarder.NewTopologyForwarder(s.stores.Topology, s.provisioner, s.resolver, s.backend, fopts)
	metricsFwd := forwarder.NewMetricsForwarder(s.stores.Metrics, s.resolver, s.backend, fopts)
	notificationFwd := forwarder.NewNotificationForwarder(s.stores.Notifications, sink, s.resolver, s.backend, fopts)
	taskFwd := forwarder.NewTaskReportForwarder(s.stores.TaskReports, s.resolver, s.backend, fopts)
	subscriptionFwd := forwarder.NewSubscriptionForwarder(s.stores.Subscriptions, s.stores.Topology, s.resolver, s.backend, fopts)

	d := s.cfg.Daemons
	daemons := []struct {
		name string
		cfg  config.DaemonConfig
		run  func(context.Context) error
	}{
		{forwarder.TopologyDaemon, d.Topology, s.topologyFwd.Tick},
		{forwarder.MetricsDaemon, d.Metrics, metricsFwd.Tick},
		{forwarder.NotificationsDaemon, d.Notifications, notificationFwd.Tick},
		{forwarder.TaskReportsDaemon, d.TaskReports, taskFwd.Tick},
		{forwarder.SubscriptionsDaemon, d.Subscriptions, subscriptionFwd.Tick},
	}
	for _, daemon := range daemons {
		err := s.scheduler.Register(scheduler.Task{
			Name:         daemon.name,
			InitialDelay: daemon.cfg.InitialDelay,
			Period:       daemon.cfg.Period,
			Timeout:      daemon.cfg.Timeout,
			Run:          daemon.run,
		})
		if err != nil {
			return fmt.Errorf("failed to register %s daemon: %w", daemon.name, err)
		}
	}
	return nil
}

// Start binds the gRPC and HTTP listeners, joins the provisioning election
// and starts the daemons.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server already started")
	}

	grpcLis, err := net.Listen("tcp", s.cfg.Bridge.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Bridge.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", s.cfg.Bridge.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Bridge.HTTPAddr, err)
	}
	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			grpcLis.Close()
			httpLis.Close()
			return fmt.Errorf("failed to start leader election: %w", err)
		}
	}

	s.grpcServer = grpc.NewServer()
	bridgeapi.RegisterBridgeServer(s.grpcServer, receiver.New(s.stores))
	reflection.Register(s.grpcServer)
	s.httpServer = &http.Server{Handler: s.routes(), ReadHeaderTimeout: readHeaderTimeout}
	s.grpcAddr = grpcLis.Addr().String()
	s.httpAddr = httpLis.Addr().String()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.logger.Infof("gRPC server listening on %s", s.grpcAddr)
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			s.logger.Errorf("gRPC server error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.logger.Infof("HTTP server listening on %s", s.httpAddr)
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP server error: %v", err)
		}
	}()

	s.scheduler.Start(ctx)
	s.started = true
	return nil
}

// Stop stops the daemons, drains both servers and leaves the election.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false

	s.scheduler.Stop()
	s.grpcServer.GracefulStop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warnf("HTTP server shutdown: %v", err)
	}
	s.wg.Wait()
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if s.election != nil {
		if err := s.election.Resign(ctx); err != nil {
			s.logger.Warnf("Failed to resign provisioning leadership: %v", err)
		}
		if err := s.election.Close(); err != nil {
			s.logger.Warnf("Failed to close leader election: %v", err)
		}
	}
	s.closeEtcd()
	s.logger.Infof("Server stopped")
}

func (s *Server) closeEtcd() {
	if s.ownsEtcd && s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warnf("Failed to close etcd client: %v", err)
		}
		s.etcd = nil
	}
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Infof("Shutting down")
	s.Stop()
	return nil
}

// GRPCAddr returns the bound gRPC address once started.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// HTTPAddr returns the bound HTTP address once started.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// Stores exposes the telemetry stores fed by the gRPC service.
func (s *Server) Stores() receiver.Stores { return s.stores }

// Scheduler exposes the daemon scheduler.
func (s *Server) Scheduler() *scheduler.Scheduler { return s.scheduler }

// IsProvisioningLeader reports whether this replica may create rooms.
// Without an election every replica may.
func (s *Server) IsProvisioningLeader() bool {
	return s.election == nil || s.election.IsLeader()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /topology", s.handleTopology)
	mux.HandleFunc("GET /rooms", s.handleRooms)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.cfg.Bridge.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}
