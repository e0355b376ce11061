package instrument

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/adapter/n5746a"
	"github.com/lab-control/lcc/internal/adapter/smb100a"
	"github.com/lab-control/lcc/internal/config"
	"github.com/lab-control/lcc/internal/telemetry"
	"github.com/lab-control/lcc/internal/transport"
)

// ErrNotConnected is returned when an operation needs a connection that
// does not exist.
var ErrNotConnected = errors.New("NOT_CONNECTED")

// Info describes a connection slot for listings.
type Info struct {
	Kind            Kind      `json:"kind"`
	Connected       bool      `json:"connected"`
	Model           string    `json:"model,omitempty"`
	Status          string    `json:"status,omitempty"`
	Identity        string    `json:"identity,omitempty"`
	Endpoint        string    `json:"endpoint,omitempty"`
	ConnectedAt     time.Time `json:"connectedAt,omitempty"`
	Polling         string    `json:"polling,omitempty"`
	PollIntervalMs  int64     `json:"pollIntervalMs"`
	LastSnapshotSeq uint64    `json:"lastSnapshotSeq,omitempty"`
}

// Connection is one live instrument: its facade and its Aggregator.
type Connection struct {
	Kind        Kind
	Endpoint    transport.Endpoint
	Identity    string
	ConnectedAt time.Time

	device     adapter.Instrument
	aggregator *telemetry.Aggregator
	unsubs     []func()
}

// Device returns the model facade.
func (c *Connection) Device() adapter.Instrument {
	return c.device
}

// Aggregator returns the telemetry poller for this connection.
func (c *Connection) Aggregator() *telemetry.Aggregator {
	return c.aggregator
}

// Info returns a listing entry for the connection.
func (c *Connection) Info() Info {
	info := Info{
		Kind:           c.Kind,
		Connected:      true,
		Identity:       c.Identity,
		Endpoint:       c.Endpoint.String(),
		ConnectedAt:    c.ConnectedAt,
		Polling:        c.aggregator.State().String(),
		PollIntervalMs: c.aggregator.Interval().Milliseconds(),
	}
	if m, ok := c.device.(interface{ GetModel() string }); ok {
		info.Model = m.GetModel()
	}
	if st, ok := c.device.(interface{ GetStatus() string }); ok {
		info.Status = st.GetStatus()
	}
	if snap, ok := c.aggregator.Latest(); ok {
		info.LastSnapshotSeq = snap.Seq
	}
	return info
}

// close stops polling, then closes the facade and with it the Exchanger.
func (c *Connection) close() error {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.aggregator.Stop()
	return c.device.Close()
}

// StateFunc is told when a kind connects or disconnects.
type StateFunc func(kind Kind, connected bool)

// Option configures a Manager.
type Option func(*Manager)

// WithExchangeObserver attaches an observer to every Exchanger dialed.
func WithExchangeObserver(o transport.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithRecorder attaches a recorder to every Aggregator started.
func WithRecorder(r telemetry.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// Manager holds the current connection for each instrument kind.
type Manager struct {
	observer transport.Observer
	recorder telemetry.Recorder

	// slots serializes connect/disconnect per kind
	slots map[Kind]*sync.Mutex

	mu             sync.RWMutex
	settings       map[Kind]config.InstrumentConfig
	connectTimeout time.Duration
	conns          map[Kind]*Connection
	snapFns        subscribers[telemetry.SnapshotFunc]
	errFns         subscribers[telemetry.ErrorFunc]
	stateFns       subscribers[StateFunc]
}

// NewManager creates a Manager using cfg for poll intervals, request
// timeouts and the connect timeout. Nothing is dialed until Connect.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		slots:    make(map[Kind]*sync.Mutex),
		settings: make(map[Kind]config.InstrumentConfig),
		conns:    make(map[Kind]*Connection),
	}
	for _, k := range Kinds() {
		m.slots[k] = &sync.Mutex{}
	}
	m.applyConfigLocked(cfg)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) applyConfigLocked(cfg *config.Config) {
	m.settings[PowerSupply] = cfg.PowerSupply
	m.settings[SignalGenerator] = cfg.SignalGenerator
	m.connectTimeout = cfg.Timing.ConnectTimeout
}

// ApplyConfig takes new settings. Poll intervals apply to running
// Aggregators immediately; request timeouts apply from the next Connect.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	m.applyConfigLocked(cfg)
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		interval := m.settingsFor(c.Kind).PollInterval
		if c.aggregator.Interval() != interval {
			log.Printf("Poll interval for %s changed to %v", c.Kind, interval)
			c.aggregator.SetInterval(interval)
		}
	}
}

func (m *Manager) settingsFor(kind Kind) config.InstrumentConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[kind]
}

// Endpoint returns the configured endpoint for kind.
func (m *Manager) Endpoint(kind Kind) transport.Endpoint {
	s := m.settingsFor(kind)
	return transport.Endpoint{Host: s.Host, Port: s.Port}
}

// Connect replaces any existing connection of kind with a new one to ep.
// The instrument must answer *IDN? before the connection is kept; polling
// starts immediately after.
func (m *Manager) Connect(ctx context.Context, kind Kind, ep transport.Endpoint) (*Connection, error) {
	slot, ok := m.slots[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	slot.Lock()
	defer slot.Unlock()

	if err := m.disconnectLocked(kind); err != nil {
		log.Printf("Closing previous %s connection: %v", kind, err)
	}

	settings := m.settingsFor(kind)
	m.mu.RLock()
	connectTimeout := m.connectTimeout
	m.mu.RUnlock()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	x, err := transport.Dial(dialCtx, ep, transport.Options{
		Timeout:     settings.RequestTimeout,
		DialTimeout: connectTimeout,
		Observer:    m.observer,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s at %s: %w", kind, ep, err)
	}

	device, source := newDevice(kind, x)
	identity, err := device.Identify(dialCtx)
	if err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("connect %s at %s: %w", kind, ep, err)
	}

	var aggOpts []telemetry.AggregatorOption
	if m.recorder != nil {
		aggOpts = append(aggOpts, telemetry.WithRecorder(m.recorder))
	}
	agg := telemetry.NewAggregator(source, settings.PollInterval, aggOpts...)

	conn := &Connection{
		Kind:        kind,
		Endpoint:    ep,
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
		device:      device,
		aggregator:  agg,
	}
	conn.unsubs = append(conn.unsubs,
		agg.OnSnapshot(m.dispatchSnapshot),
		agg.OnError(m.dispatchError),
	)

	// Polling outlives the request that asked for the connection.
	if err := agg.Start(context.Background()); err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("connect %s: %w", kind, err)
	}

	m.mu.Lock()
	m.conns[kind] = conn
	m.mu.Unlock()

	log.Printf("Connected %s at %s: %s", kind, ep, identity)
	m.dispatchState(kind, true)
	return conn, nil
}

func newDevice(kind Kind, x adapter.Exchanger) (adapter.Instrument, telemetry.Source) {
	if kind == SignalGenerator {
		d := smb100a.New(string(kind), x)
		return d, telemetry.SignalGeneratorSource(string(kind), d)
	}
	d := n5746a.New(string(kind), x)
	return d, telemetry.PowerSupplySource(string(kind), d)
}

// ConnectAll connects every endpoint concurrently and returns the first
// error. Kinds that connect successfully stay connected.
func (m *Manager) ConnectAll(ctx context.Context, endpoints map[Kind]transport.Endpoint) error {
	var g errgroup.Group
	for kind, ep := range endpoints {
		g.Go(func() error {
			_, err := m.Connect(ctx, kind, ep)
			return err
		})
	}
	return g.Wait()
}

// ConnectEnabled connects every kind whose configuration is enabled.
func (m *Manager) ConnectEnabled(ctx context.Context) error {
	endpoints := make(map[Kind]transport.Endpoint)
	for _, k := range Kinds() {
		if m.settingsFor(k).Enabled {
			endpoints[k] = m.Endpoint(k)
		}
	}
	if len(endpoints) == 0 {
		return nil
	}
	return m.ConnectAll(ctx, endpoints)
}

// Disconnect stops polling and closes the connection of kind. Disconnecting
// a kind that is not connected is a no-op.
func (m *Manager) Disconnect(kind Kind) error {
	slot, ok := m.slots[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	slot.Lock()
	defer slot.Unlock()
	return m.disconnectLocked(kind)
}

// disconnectLocked tears down kind. Caller holds the kind's slot.
func (m *Manager) disconnectLocked(kind Kind) error {
	m.mu.Lock()
	conn, ok := m.conns[kind]
	delete(m.conns, kind)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := conn.close()
	log.Printf("Disconnected %s", kind)
	m.dispatchState(kind, false)
	return err
}

// Shutdown disconnects every kind concurrently.
func (m *Manager) Shutdown() error {
	var g errgroup.Group
	for _, kind := range Kinds() {
		g.Go(func() error {
			return m.Disconnect(kind)
		})
	}
	return g.Wait()
}

// Get returns the connection for kind.
func (m *Manager) Get(kind Kind) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotConnected)
	}
	return conn, nil
}

// Device returns the facade connected as kind.
func (m *Manager) Device(kind Kind) (adapter.Instrument, error) {
	conn, err := m.Get(kind)
	if err != nil {
		return nil, err
	}
	return conn.device, nil
}

// PowerSupply returns the connected power supply facade.
func (m *Manager) PowerSupply() (adapter.PowerSupply, error) {
	conn, err := m.Get(PowerSupply)
	if err != nil {
		return nil, err
	}
	return conn.device.(adapter.PowerSupply), nil
}

// SignalGenerator returns the connected signal generator facade.
func (m *Manager) SignalGenerator() (adapter.SignalGenerator, error) {
	conn, err := m.Get(SignalGenerator)
	if err != nil {
		return nil, err
	}
	return conn.device.(adapter.SignalGenerator), nil
}

// Aggregator returns the poller for kind.
func (m *Manager) Aggregator(kind Kind) (*telemetry.Aggregator, error) {
	conn, err := m.Get(kind)
	if err != nil {
		return nil, err
	}
	return conn.aggregator, nil
}

// List returns one entry per kind, connected or not.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Info, 0, len(m.slots))
	for _, k := range Kinds() {
		if conn, ok := m.conns[k]; ok {
			items = append(items, conn.Info())
			continue
		}
		items = append(items, Info{Kind: k, PollIntervalMs: m.settings[k].PollInterval.Milliseconds()})
	}
	return items
}

// OnSnapshot subscribes fn to snapshots of every current and future
// connection. It returns a function that removes the subscription.
func (m *Manager) OnSnapshot(fn telemetry.SnapshotFunc) func() {
	return m.snapFns.add(fn)
}

// OnError subscribes fn to cycle errors of every connection.
func (m *Manager) OnError(fn telemetry.ErrorFunc) func() {
	return m.errFns.add(fn)
}

// OnStateChange subscribes fn to connect and disconnect notifications.
func (m *Manager) OnStateChange(fn StateFunc) func() {
	return m.stateFns.add(fn)
}

func (m *Manager) dispatchSnapshot(s telemetry.Snapshot) {
	for _, fn := range m.snapFns.list() {
		fn(s.Clone())
	}
}

func (m *Manager) dispatchError(err *telemetry.CycleError) {
	for _, fn := range m.errFns.list() {
		fn(err)
	}
}

func (m *Manager) dispatchState(kind Kind, connected bool) {
	for _, fn := range m.stateFns.list() {
		fn(kind, connected)
	}
}
