// Package supervisor owns the running instance: config, the driver plane,
// the provider selector, the resolver pipeline, and the listener. It is the
// one place config mutation and process lifecycle are serialized.
//
// Grounded in internal/server/runner.go's Run/configureRuntime lifecycle
// shape (bind, construct, wait for signal, drain-then-stop), generalized to
// add driver-plane construction/swap and event-bus wiring the teacher's
// runner doesn't have, and to drop zone-file loading (authoritative serving
// is out of scope here).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/elkhorn-labs/dnsward/internal/cache"
	"github.com/elkhorn-labs/dnsward/internal/config"
	"github.com/elkhorn-labs/dnsward/internal/eventbus"
	"github.com/elkhorn-labs/dnsward/internal/listener"
	"github.com/elkhorn-labs/dnsward/internal/policy"
	"github.com/elkhorn-labs/dnsward/internal/resolver"
	"github.com/elkhorn-labs/dnsward/internal/selector"
	"github.com/elkhorn-labs/dnsward/internal/store"
	"github.com/elkhorn-labs/dnsward/internal/upstream"
)

// drainGrace bounds how long stop() waits for in-flight handlers before
// closing drivers out from under them.
const drainGrace = time.Second

// Event bus topics this package publishes on. topicStatus carries server
// lifecycle events (started/stopped/crashed/driver_swapped); the
// topic*Change family carries driver content-change notifications, keyed
// as a "/"-suffixed prefix family so a subscriber can listen to the whole
// family without naming every entry; topicInfo carries a general
// informational note, currently live config updates.
const (
	topicStatus          = "dns/status"
	topicCacheChange     = "dns/cache/"
	topicDenylistChange  = "dns/denylist/"
	topicAllowlistChange = "dns/allowlist/"
	topicInfo            = "dns/info"
)

// ProviderStats is one provider's health snapshot, part of Status.
type ProviderStats struct {
	Name     string
	Stats    selector.Stats
	Disabled bool
}

// Status is the read-only snapshot returned by the administrative
// status() contract (spec §6).
type Status struct {
	Running   bool
	Port      int
	Providers []ProviderStats
}

// Supervisor owns the listener, the driver set, and the provider selector,
// and serializes every mutation of the running configuration.
type Supervisor struct {
	logger *slog.Logger
	bus    *eventbus.Bus

	cacheReg  *store.Registry[store.CacheDriver]
	policyReg *store.Registry[store.PolicyDriver]
	logsReg   *store.Registry[store.LogsDriver]

	mu      sync.Mutex
	running bool
	cfg     config.ServerConfiguration

	cacheDriver     store.CacheDriver
	denylistDriver  store.PolicyDriver
	allowlistDriver store.PolicyDriver
	logsDriver      store.LogsDriver

	cacheEngine *cache.Engine
	matcher     *policy.Matcher
	sel         *selector.Selector
	pipeline    *resolver.Pipeline

	udp     *listener.UDPServer
	tcp     *listener.TCPServer
	limiter *listener.RateLimiter

	cancel context.CancelFunc
	runWg  sync.WaitGroup
}

// New builds a Supervisor with the default driver registries and an empty
// event bus. Call Start to bring up a listener.
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:    logger,
		bus:       eventbus.New(),
		cacheReg:  defaultCacheRegistry(),
		policyReg: defaultPolicyRegistry(),
		logsReg:   defaultLogsRegistry(),
	}
}

// Bus exposes the event bus for admin-plane subscribers (spec §6
// "subscribe(topics...) -> stream").
func (s *Supervisor) Bus() *eventbus.Bus { return s.bus }

// Start binds the listener and constructs the driver set from cfg,
// publishing "dns/status=started" on success. Fails if already running.
func (s *Supervisor) Start(cfg config.ServerConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("supervisor: already running")
	}
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	if err := s.buildDriversLocked(cfg); err != nil {
		return err
	}
	s.buildPipelineLocked(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	addr := net.JoinHostPort("", strconv.Itoa(cfg.Port))
	s.limiter = listener.NewRateLimiter(listener.RateLimitSettings{
		CleanupSeconds:   cfg.RateLimit.CleanupSeconds,
		MaxIPEntries:     cfg.RateLimit.MaxIPEntries,
		MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries,
		GlobalQPS:        cfg.RateLimit.GlobalQPS,
		GlobalBurst:      cfg.RateLimit.GlobalBurst,
		PrefixQPS:        cfg.RateLimit.PrefixQPS,
		PrefixBurst:      cfg.RateLimit.PrefixBurst,
		IPQPS:            cfg.RateLimit.IPQPS,
		IPBurst:          cfg.RateLimit.IPBurst,
	})
	s.udp = &listener.UDPServer{Logger: s.logger, Handler: s.pipeline, Limiter: s.limiter}

	// Bind both sockets synchronously before anything is marked running: a
	// privileged-port denial or an address already in use must refuse
	// start and surface a crashed event, not merely log a warning from a
	// detached goroutine after Start has already returned success.
	udpConn, err := s.udp.Bind(ctx, addr)
	if err != nil {
		cancel()
		s.closeDriversLocked()
		s.publishBindFailure(err, cfg.Port)
		return fmt.Errorf("supervisor: bind udp %s: %w", addr, err)
	}

	var tcpListener net.Listener
	if cfg.EnableTCP {
		s.tcp = &listener.TCPServer{Logger: s.logger, Handler: s.pipeline}
		tcpListener, err = s.tcp.Bind(ctx, addr)
		if err != nil {
			_ = udpConn.Close()
			cancel()
			s.closeDriversLocked()
			s.publishBindFailure(err, cfg.Port)
			return fmt.Errorf("supervisor: bind tcp %s: %w", addr, err)
		}
	}

	s.cancel = cancel

	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		if err := s.udp.RunOnConn(ctx, udpConn); err != nil {
			s.logger.Error("udp listener exited", "err", err)
		}
	}()

	if cfg.EnableTCP {
		s.runWg.Add(1)
		go func() {
			defer s.runWg.Done()
			if err := s.tcp.RunOnListener(ctx, tcpListener); err != nil {
				s.logger.Error("tcp listener exited", "err", err)
			}
		}()
	}

	s.cfg = cfg
	s.running = true
	s.logger.Info("dns listening", "port", cfg.Port, "tcp", cfg.EnableTCP,
		"secondary_upstream", cfg.SecondaryUpstream, "rate_limit", listener.DescribeLimits(listener.RateLimitSettings{
			CleanupSeconds: cfg.RateLimit.CleanupSeconds, MaxIPEntries: cfg.RateLimit.MaxIPEntries,
			MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries, GlobalQPS: cfg.RateLimit.GlobalQPS,
			GlobalBurst: cfg.RateLimit.GlobalBurst, PrefixQPS: cfg.RateLimit.PrefixQPS,
			PrefixBurst: cfg.RateLimit.PrefixBurst, IPQPS: cfg.RateLimit.IPQPS, IPBurst: cfg.RateLimit.IPBurst,
		}))
	s.publishServerEvent("started", "")
	return nil
}

// Stop closes the listener, allows in-flight handlers a short grace
// period, destroys the driver set, and publishes "stopped".
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Supervisor) stopLocked() error {
	if !s.running {
		return errors.New("supervisor: not running")
	}

	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.runWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
	}

	s.closeDriversLocked()
	s.running = false
	s.logger.Info("dns stopped")
	s.publishServerEvent("stopped", "")
	return nil
}

// Toggle starts the supervisor if stopped, or stops it if running, using
// the last-applied configuration.
func (s *Supervisor) Toggle() error {
	s.mu.Lock()
	running := s.running
	cfg := s.cfg
	s.mu.Unlock()

	if running {
		return s.Stop()
	}
	return s.Start(cfg)
}

// SwapDriver installs a new driver for role and calls Close on the old one
// as soon as the swap is complete. Operations already running against the
// old driver are not waited for.
func (s *Supervisor) SwapDriver(role store.Role, dc config.DriverConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch role {
	case store.RoleCache:
		next, err := s.cacheReg.Build(dc.Name, dc.Config)
		if err != nil {
			return err
		}
		old := s.cacheDriver
		s.cacheDriver = next
		s.cfg.DriverConfigs.Cache = dc
		if s.cacheEngine != nil {
			s.cacheEngine.SwapDriver(next)
		}
		closeDrained(old)
	case store.RoleDenylist:
		next, err := s.policyReg.Build(dc.Name, dc.Config)
		if err != nil {
			return err
		}
		old := s.denylistDriver
		s.denylistDriver = next
		s.cfg.DriverConfigs.Denylist = dc
		if s.matcher != nil {
			s.matcher.SwapDenylist(next)
		}
		closeDrained(old)
	case store.RoleAllowlist:
		next, err := s.policyReg.Build(dc.Name, dc.Config)
		if err != nil {
			return err
		}
		old := s.allowlistDriver
		s.allowlistDriver = next
		s.cfg.DriverConfigs.Allowlist = dc
		if s.matcher != nil {
			s.matcher.SwapAllowlist(next)
		}
		closeDrained(old)
	case store.RoleLogs:
		next, err := s.logsReg.Build(dc.Name, dc.Config)
		if err != nil {
			return err
		}
		old := s.logsDriver
		s.logsDriver = next
		s.cfg.DriverConfigs.Logs = dc
		if s.pipeline != nil {
			s.pipeline.Logs = next
		}
		closeDrained(old)
	default:
		return fmt.Errorf("supervisor: unknown driver role %q", role)
	}

	s.publishServerEvent("driver_swapped", string(role))
	s.publishDriverChange(role, dc.Name)
	return nil
}

// publishDriverChange notifies the role's content-change family that the
// backing driver changed. It carries the same shape as a log entry so
// subscribers don't need a second payload type, with Message set to the
// newly installed driver's name.
func (s *Supervisor) publishDriverChange(role store.Role, driverName string) {
	if s.bus == nil {
		return
	}
	var topic string
	switch role {
	case store.RoleCache:
		topic = topicCacheChange
	case store.RoleDenylist:
		topic = topicDenylistChange
	case store.RoleAllowlist:
		topic = topicAllowlistChange
	default:
		return
	}
	s.bus.Publish(topic, store.LogEntry{
		Timestamp: time.Now(),
		Kind:      store.LogKindServer,
		Level:     store.LevelInfo,
		EventType: "driver_swapped",
		Message:   driverName,
	})
}

// UpdateConfig applies live-mutable fields from next. A port or
// enableTCP change forces a stop+start since the listener must rebind.
func (s *Supervisor) UpdateConfig(next config.ServerConfiguration) error {
	if err := config.Validate(&next); err != nil {
		return err
	}

	s.mu.Lock()
	needsRestart := s.running && (next.Port != s.cfg.Port || next.EnableTCP != s.cfg.EnableTCP)
	wasRunning := s.running
	s.mu.Unlock()

	if needsRestart {
		if err := s.Stop(); err != nil {
			return err
		}
		return s.Start(next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.EnableWhitelist = next.EnableWhitelist
	s.cfg.SecondaryUpstream = next.SecondaryUpstream
	s.cfg.NextDNSConfigID = next.NextDNSConfigID
	s.cfg.RateLimit = next.RateLimit
	s.cfg.Logging = next.Logging
	if wasRunning {
		s.rebuildSelectorLocked()
		if s.limiter != nil {
			*s.limiter = *listener.NewRateLimiter(listener.RateLimitSettings{
				CleanupSeconds: next.RateLimit.CleanupSeconds, MaxIPEntries: next.RateLimit.MaxIPEntries,
				MaxPrefixEntries: next.RateLimit.MaxPrefixEntries, GlobalQPS: next.RateLimit.GlobalQPS,
				GlobalBurst: next.RateLimit.GlobalBurst, PrefixQPS: next.RateLimit.PrefixQPS,
				PrefixBurst: next.RateLimit.PrefixBurst, IPQPS: next.RateLimit.IPQPS, IPBurst: next.RateLimit.IPBurst,
			})
		}
	}
	if s.bus != nil {
		s.bus.Publish(topicInfo, store.LogEntry{
			Timestamp: time.Now(),
			Kind:      store.LogKindServer,
			Level:     store.LevelInfo,
			EventType: "config_updated",
		})
	}
	return nil
}

// Status reports the current running state and provider health.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Port: s.cfg.Port}
	if s.sel == nil {
		return st
	}
	for _, name := range s.providerNamesLocked() {
		stats, _ := s.sel.StatsFor(name)
		st.Providers = append(st.Providers, ProviderStats{Name: name, Stats: stats})
	}
	return st
}

func (s *Supervisor) providerNamesLocked() []string {
	names := []string{"system"}
	if s.cfg.SecondaryUpstream != "" && s.cfg.SecondaryUpstream != config.SecondarySystem {
		names = append(names, string(s.cfg.SecondaryUpstream))
	}
	if s.cfg.NextDNSConfigID != "" {
		names = append(names, "nextdns")
	}
	return names
}

func (s *Supervisor) buildDriversLocked(cfg config.ServerConfiguration) error {
	cacheDriver, err := s.cacheReg.Build(cfg.DriverConfigs.Cache.Name, cfg.DriverConfigs.Cache.Config)
	if err != nil {
		return fmt.Errorf("supervisor: cache driver: %w", err)
	}
	denylistDriver, err := s.policyReg.Build(cfg.DriverConfigs.Denylist.Name, cfg.DriverConfigs.Denylist.Config)
	if err != nil {
		return fmt.Errorf("supervisor: denylist driver: %w", err)
	}
	allowlistDriver, err := s.policyReg.Build(cfg.DriverConfigs.Allowlist.Name, cfg.DriverConfigs.Allowlist.Config)
	if err != nil {
		return fmt.Errorf("supervisor: allowlist driver: %w", err)
	}
	logsDriver, err := s.logsReg.Build(cfg.DriverConfigs.Logs.Name, cfg.DriverConfigs.Logs.Config)
	if err != nil {
		return fmt.Errorf("supervisor: logs driver: %w", err)
	}

	s.cacheDriver = cacheDriver
	s.denylistDriver = denylistDriver
	s.allowlistDriver = allowlistDriver
	s.logsDriver = logsDriver
	return nil
}

func (s *Supervisor) buildPipelineLocked(cfg config.ServerConfiguration) {
	s.cacheEngine = cache.NewEngine(s.cacheDriver, cache.DefaultConfig())

	policyCfg := policy.DefaultConfig()
	policyCfg.AllowlistEnabled = cfg.EnableWhitelist
	s.matcher = policy.NewMatcher(s.denylistDriver, s.allowlistDriver, policyCfg, s.logger)

	s.sel = buildSelector(cfg)

	s.pipeline = &resolver.Pipeline{
		Policy:   s.matcher,
		Cache:    s.cacheEngine,
		Selector: s.sel,
		Logs:     s.logsDriver,
		Bus:      s.bus,
		Logger:   s.logger,
		Timeout:  resolver.DefaultTimeout,
	}
}

func (s *Supervisor) rebuildSelectorLocked() {
	s.sel = buildSelector(s.cfg)
	s.pipeline.Selector = s.sel
	matcherCfg := policy.DefaultConfig()
	matcherCfg.AllowlistEnabled = s.cfg.EnableWhitelist
	s.matcher.SetConfig(matcherCfg)
}

func buildSelector(cfg config.ServerConfiguration) *selector.Selector {
	providers := []upstream.Provider{upstream.NewSystemProvider()}

	switch cfg.SecondaryUpstream {
	case config.SecondaryCloudflare:
		providers = append(providers, upstream.NewCloudflare(selector.AttemptTimeout))
	case config.SecondaryGoogle:
		providers = append(providers, upstream.NewGoogle(selector.AttemptTimeout))
	case config.SecondaryOpenDNS:
		providers = append(providers, upstream.NewOpenDNS(selector.AttemptTimeout))
	case config.SecondarySystem:
		// system is already the primary; nothing to add.
	}

	if cfg.NextDNSConfigID != "" {
		if nd, err := upstream.NewNextDNS(cfg.NextDNSConfigID, selector.AttemptTimeout); err == nil {
			providers = append(providers, nd)
		}
	}

	return selector.New(providers...)
}

func (s *Supervisor) closeDriversLocked() {
	closeDrained(s.cacheDriver)
	closeDrained(s.denylistDriver)
	closeDrained(s.allowlistDriver)
	closeDrained(s.logsDriver)
}

// closeDrained closes a driver, swallowing the error: a driver failing to
// release its resources must never block shutdown (same fail-open stance
// as a driver failing to serve a query).
func closeDrained(c interface{ Close() error }) {
	if c == nil {
		return
	}
	_ = c.Close()
}

// publishBindFailure reports a refused start: PortPrivilegeDenied when the
// bind failed on an EACCES (privileged port without the needed
// capability), BindFailed for any other bind error (address in use,
// unreachable interface, ...). Both enter the crashed server-event state
// per the error table (spec-equivalent §7).
func (s *Supervisor) publishBindFailure(err error, port int) {
	reason := "BindFailed"
	if errors.Is(err, syscall.EACCES) || errors.Is(err, os.ErrPermission) {
		reason = "PortPrivilegeDenied"
	}
	s.logger.Error("dns bind failed", "reason", reason, "port", port, "err", err)
	if s.bus == nil {
		return
	}
	s.bus.Publish(topicStatus, store.LogEntry{
		Timestamp: time.Now(),
		Kind:      store.LogKindServer,
		Level:     store.LevelError,
		EventType: "crashed",
		Message:   fmt.Sprintf("%s: %v", reason, err),
		Port:      port,
	})
}

func (s *Supervisor) publishServerEvent(eventType, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topicStatus, store.LogEntry{
		Timestamp: time.Now(),
		Kind:      store.LogKindServer,
		Level:     store.LevelInfo,
		EventType: eventType,
		Message:   detail,
		Port:      s.cfg.Port,
	})
}
