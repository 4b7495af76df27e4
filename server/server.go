// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server wires the endpoint, the connection handler and the control plane
// into one AJP connector with an init/start/pause/resume/destroy lifecycle.

package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-ajp/api"
	"github.com/momentics/hioload-ajp/control"
	"github.com/momentics/hioload-ajp/endpoint"
	"github.com/momentics/hioload-ajp/handler"
)

// Attribute names understood by SetAttribute. Any other name is stored
// and reported by GetConfig but has no effect on the connector.
const (
	AttrRequiredSecret        = "requiredSecret"
	AttrTrustedAuthentication = "trustedAuthentication"
	AttrKeepAliveTimeout      = "keepAliveTimeout"
	AttrSoTimeout             = "soTimeout"
	AttrPacketSize            = "packetSize"
	AttrProcessorCache        = "processorCache"
)

var (
	_ api.Control          = (*Server)(nil)
	_ api.Debug            = (*Server)(nil)
	_ api.GracefulShutdown = (*Server)(nil)
)

// Server is the AJP connector facade.
type Server struct {
	log         *zap.Logger
	registerer  prometheus.Registerer
	connections handler.Registry

	mu      sync.Mutex
	cfg     *Config
	reloads []func()
	started time.Time

	group    *control.RequestGroup
	handler  *handler.ConnectionHandler
	endpoint *endpoint.Endpoint
	attrs    *control.ConfigStore
	probes   *control.DebugProbes
}

// New builds a connector serving adapter. cfg may be nil for defaults; it
// is copied, so later changes to it have no effect.
func New(cfg *Config, adapter api.Adapter, opts ...Option) (*Server, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: nil adapter", api.ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{
		cfg: &c,
		log: zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	s.group = control.NewRequestGroup(s.registerer, s.baseName())
	hopts := []handler.Option{
		handler.WithLogger(s.log),
		handler.WithRequestGroup(s.group),
		handler.WithCache(s.cfg.ProcessorCache),
	}
	if s.connections != nil {
		hopts = append(hopts, handler.WithRegistry(s.connections))
	}
	s.handler = handler.New(s.cfg.processorConfig(), adapter, hopts...)
	s.endpoint = endpoint.New(s.cfg.endpointConfig(), s.handler, s.log)
	s.handler.SetPoller(s.endpoint.Poller())

	s.attrs = control.NewConfigStore()
	s.attrs.SetConfig(s.cfg.attributes())
	s.attrs.OnReload(s.reload)

	s.probes = control.NewDebugProbes()
	s.probes.RegisterProbe("ajp.connections.suspended", func() any { return s.handler.Suspended() })
	s.probes.RegisterProbe("ajp.connections.open", func() any { return s.endpoint.Connections() })
	s.probes.RegisterProbe("ajp.processors.idle", func() any { return s.handler.Idle() })
	s.probes.RegisterProbe("ajp.processors.registered", func() any { return s.group.Registered() })
	control.RegisterPlatformProbes(s.probes)
	return s, nil
}

// Name identifies the connector as ajp-<address>:<port>, the address part
// being omitted when the connector binds every interface.
func (s *Server) Name() string {
	s.mu.Lock()
	addr := s.cfg.Address
	s.mu.Unlock()
	port := s.port()
	if addr == "" {
		return "ajp-" + strconv.Itoa(port)
	}
	return "ajp-" + addr + ":" + strconv.Itoa(port)
}

// baseName is Name before the socket is bound.
func (s *Server) baseName() string {
	if s.cfg.Address == "" {
		return "ajp-" + strconv.Itoa(s.cfg.Port)
	}
	return "ajp-" + s.cfg.Address + ":" + strconv.Itoa(s.cfg.Port)
}

// port prefers the bound port, which differs from the configured one when
// the connector listens on port 0.
func (s *Server) port() int {
	if tcp, ok := s.endpoint.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Port
}

// Addr returns the bound address, or nil before Init.
func (s *Server) Addr() net.Addr { return s.endpoint.Addr() }

// RequestGroup returns the request statistics of the connector.
func (s *Server) RequestGroup() *control.RequestGroup { return s.group }

// Handler returns the connection handler.
func (s *Server) Handler() *handler.ConnectionHandler { return s.handler }

// Init binds the listening socket.
func (s *Server) Init() error {
	if err := s.endpoint.Init(); err != nil {
		s.log.Error("error initializing endpoint", zap.Error(err))
		return err
	}
	s.log.Info("initializing ajp protocol", zap.String("name", s.Name()))
	return nil
}

// Start begins accepting connections, binding first if needed.
func (s *Server) Start() error {
	if err := s.endpoint.Start(); err != nil {
		s.log.Error("error starting endpoint", zap.Error(err))
		return err
	}
	s.mu.Lock()
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.mu.Unlock()
	s.log.Info("starting ajp protocol", zap.String("name", s.Name()))
	return nil
}

// Info describes the connector for external tools.
func (s *Server) Info() api.ServiceInfo {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return api.ServiceInfo{Name: s.Name(), Version: Version, StartedAt: started}
}

// Pause stops accepting connections and waits until no request is in the
// service stage, or until ctx is done.
func (s *Server) Pause(ctx context.Context) error {
	s.endpoint.Pause()
	t := time.NewTicker(PausePollInterval)
	defer t.Stop()
	for s.group.Busy() {
		select {
		case <-ctx.Done():
			s.log.Warn("pausing ajp protocol with requests in service",
				zap.String("name", s.Name()), zap.Error(ctx.Err()))
			return ctx.Err()
		case <-t.C:
		}
	}
	s.log.Info("pausing ajp protocol", zap.String("name", s.Name()))
	return nil
}

// Resume undoes Pause.
func (s *Server) Resume() {
	s.endpoint.Resume()
	s.log.Info("resuming ajp protocol", zap.String("name", s.Name()))
}

// Destroy stops the endpoint, delivering STOP to suspended connections, and
// drops the idle processors. The connector cannot be started again.
func (s *Server) Destroy() error {
	s.log.Info("stopping ajp protocol", zap.String("name", s.Name()))
	err := s.endpoint.Stop()
	s.handler.Clear()
	return err
}

// Shutdown pauses the connector for at most Config.ShutdownTimeout so
// requests in service can finish, then destroys it.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	timeout := s.cfg.ShutdownTimeout
	s.mu.Unlock()
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_ = s.Pause(ctx)
	return s.Destroy()
}

// SetAttribute stores a connector attribute. Recognised names take effect
// for processors created from now on; idle processors are dropped.
func (s *Server) SetAttribute(name string, value any) error {
	return s.SetConfig(map[string]any{name: value})
}

// GetAttribute returns a stored attribute.
func (s *Server) GetAttribute(name string) (any, bool) {
	return s.attrs.Get(name)
}

// GetConfig returns a snapshot of every attribute.
func (s *Server) GetConfig() map[string]any { return s.attrs.GetSnapshot() }

// SetConfig applies several attributes at once. Nothing is stored when
// any recognised attribute has an invalid value.
func (s *Server) SetConfig(cfg map[string]any) error {
	s.mu.Lock()
	probe := *s.cfg
	s.mu.Unlock()
	for k, v := range cfg {
		if err := applyAttribute(&probe, k, v); err != nil {
			return err
		}
	}
	if err := probe.Validate(); err != nil {
		return err
	}
	s.attrs.SetConfig(cfg)
	return nil
}

// OnReload registers fn to run after attributes change.
func (s *Server) OnReload(fn func()) {
	s.mu.Lock()
	s.reloads = append(s.reloads, fn)
	s.mu.Unlock()
}

func (s *Server) reload(changed map[string]any) {
	s.mu.Lock()
	c := *s.cfg
	protocol, cache := false, false
	for k, v := range changed {
		if err := applyAttribute(&c, k, v); err != nil {
			s.log.Warn("ignoring attribute", zap.String("name", k), zap.Error(err))
			continue
		}
		switch k {
		case AttrProcessorCache:
			cache = true
		case AttrRequiredSecret, AttrTrustedAuthentication, AttrKeepAliveTimeout, AttrSoTimeout, AttrPacketSize:
			protocol = true
		}
	}
	s.cfg = &c
	reloads := s.reloads
	s.mu.Unlock()

	if protocol {
		s.handler.SetConfig(c.processorConfig())
	}
	if cache {
		s.handler.SetCache(c.ProcessorCache)
	}
	s.log.Debug("attributes reloaded", zap.Any("changed", changed))
	for _, fn := range reloads {
		fn()
	}
}

// Stats merges request-group totals with endpoint counters.
func (s *Server) Stats() map[string]any {
	g := s.group.Stats()
	stats := map[string]any{
		"requestCount":   g.RequestCount,
		"errorCount":     g.ErrorCount,
		"bytesReceived":  g.BytesReceived,
		"bytesSent":      g.BytesSent,
		"processingTime": g.ProcessingTime,
		"maxTime":        g.MaxTime,
		"registered":     g.Registered,
		"suspended":      g.Suspended,
		"discarded":      g.Discarded,
	}
	for k, v := range s.endpoint.Stats() {
		stats["endpoint."+k] = v
	}
	return stats
}

// RegisterDebugProbe adds a probe reported by DumpState.
func (s *Server) RegisterDebugProbe(name string, fn func() any) {
	s.probes.RegisterProbe(name, fn)
}

// RegisterProbe implements api.Debug.
func (s *Server) RegisterProbe(name string, fn func() any) {
	s.probes.RegisterProbe(name, fn)
}

// DumpState evaluates every probe.
func (s *Server) DumpState() map[string]any {
	state := s.probes.DumpState()
	state["ajp.name"] = s.Name()
	return state
}

func (c *Config) attributes() map[string]any {
	return map[string]any{
		AttrRequiredSecret:        c.RequiredSecret,
		AttrTrustedAuthentication: c.TrustedAuthentication,
		AttrKeepAliveTimeout:      c.KeepAliveTimeout,
		AttrSoTimeout:             c.SoTimeout,
		AttrPacketSize:            c.PacketSize,
		AttrProcessorCache:        c.ProcessorCache,
	}
}

// applyAttribute sets the Config field behind a recognised attribute.
func applyAttribute(c *Config, name string, value any) error {
	var err error
	switch name {
	case AttrRequiredSecret:
		c.RequiredSecret, err = asString(value)
	case AttrTrustedAuthentication:
		c.TrustedAuthentication, err = asBool(value)
	case AttrKeepAliveTimeout:
		c.KeepAliveTimeout, err = asDuration(value)
	case AttrSoTimeout:
		c.SoTimeout, err = asDuration(value)
	case AttrPacketSize:
		c.PacketSize, err = asInt(value)
	case AttrProcessorCache:
		c.ProcessorCache, err = asInt(value)
	}
	if err != nil {
		return fmt.Errorf("%w: attribute %s: %v", api.ErrInvalidArgument, name, err)
	}
	return nil
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("unsupported type %T", v)
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(x)
	}
	return false, fmt.Errorf("unsupported type %T", v)
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

// asDuration accepts a time.Duration, a duration string, or a plain
// number of milliseconds.
func asDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case int, int32, int64:
		n, _ := asInt(x)
		return time.Duration(n) * time.Millisecond, nil
	case string:
		if n, err := strconv.Atoi(x); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
		return time.ParseDuration(x)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
