package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/learnaware/tutor/internal/reliability"
	"github.com/learnaware/tutor/internal/store"
)

// State is the lifecycle state of the managed connection.
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateConnected        State = "connected"
	StateNoDatabaseAccess State = "no_database_access"
	StateDisconnected     State = "disconnected"
	StateError            State = "error"
)

// ProbeFailure classifies a failed liveness probe.
type ProbeFailure string

const (
	ProbeTransient ProbeFailure = "transient"
	ProbeAuth      ProbeFailure = "auth"
	ProbeUnknown   ProbeFailure = "unknown"
)

// Options configures the pooled client.
type Options struct {
	URI                    string
	Database               string
	MaxPoolSize            int
	MinPoolSize            int
	MaxIdleTime            time.Duration
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

// Probe is the outcome of one liveness check.
type Probe struct {
	OK        bool         `json:"ok"`
	LatencyMS int64        `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
	Failure   ProbeFailure `json:"failure,omitempty"`
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	State               State  `json:"state"`
	Database            string `json:"database,omitempty"`
	Connected           bool   `json:"is_connected"`
	AuthFailed          bool   `json:"auth_failed"`
	DatabaseInitialized bool   `json:"db_initialized"`
	LastError           string `json:"connection_error,omitempty"`
	Probe               *Probe `json:"probe,omitempty"`
}

// Client is the part of the driver client the manager needs.
type Client interface {
	Ping(ctx context.Context) error
	ListCollectionNames(ctx context.Context, database string) ([]string, error)
	Collection(database, name string) store.Collection
	Disconnect(ctx context.Context) error
}

// Dialer creates a client. It must not block on network I/O.
type Dialer func(ctx context.Context, opts Options) (Client, error)

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the MongoDB dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dial = d
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStateHook is called after every state transition, outside the lock.
func WithStateHook(fn func(State)) Option {
	return func(m *Manager) {
		m.onState = fn
	}
}

// Manager owns the single pooled database client. It is constructed once at
// startup and handed to every store.
type Manager struct {
	dial    Dialer
	logger  zerolog.Logger
	onState func(State)

	mu         sync.RWMutex
	client     Client
	dbName     string
	state      State
	connected  bool
	dbReady    bool
	authFailed bool
	lastErr    string
}

var _ store.Connection = (*Manager)(nil)

// NewManager returns an uninitialized manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		dial:   Dial,
		logger: zerolog.Nop(),
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize connects, probes the server, and verifies access to the named
// database. It returns true when the server is reachable, even if access to
// the database was refused; that case is recorded as StateNoDatabaseAccess.
// Failures are recorded in the state, never returned.
func (m *Manager) Initialize(ctx context.Context, opts Options) bool {
	m.logger.Info().Str("database", opts.Database).
		Int("max_pool_size", opts.MaxPoolSize).
		Int("min_pool_size", opts.MinPoolSize).
		Msg("initializing database connection pool")

	if _, err := m.release(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("releasing previous database client failed")
	}

	if strings.TrimSpace(opts.URI) == "" {
		m.logger.Error().Msg("database URI is not configured")
		m.set(nil, opts.Database, StateError, false, false, false, "database URI is not configured")
		return false
	}

	client, err := m.dial(ctx, opts)
	if err != nil {
		m.logger.Error().Err(err).Msg("unexpected error initializing database connection")
		m.set(nil, opts.Database, StateError, false, false, false, err.Error())
		return false
	}

	if err := client.Ping(ctx); err != nil {
		m.logger.Error().Err(err).Msg("could not reach database server")
		_ = client.Disconnect(context.WithoutCancel(ctx))
		m.set(nil, opts.Database, StateDisconnected, false, false, false, err.Error())
		return false
	}
	m.logger.Info().Msg("database server responded to ping")

	if strings.TrimSpace(opts.Database) == "" {
		m.logger.Warn().Msg("connected to database server but no database name is configured")
		m.set(client, opts.Database, StateNoDatabaseAccess, true, false, false, "database name is not configured")
		return true
	}

	names, err := client.ListCollectionNames(ctx, opts.Database)
	if err != nil {
		var serverErr mongo.ServerError
		if errors.As(err, &serverErr) || classifyProbe(err) == ProbeAuth {
			m.logger.Warn().Err(err).Str("database", opts.Database).
				Msg("connected to database server but database access failed")
			m.set(client, opts.Database, StateNoDatabaseAccess, true, false, true, err.Error())
			return true
		}
		m.logger.Error().Err(err).Msg("could not reach database server")
		_ = client.Disconnect(context.WithoutCancel(ctx))
		m.set(nil, opts.Database, StateDisconnected, false, false, false, err.Error())
		return false
	}

	m.logger.Info().Str("database", opts.Database).Strs("collections", names).
		Msg("connected to database")
	m.set(client, opts.Database, StateConnected, true, true, false, "")
	return true
}

// Status returns the current state. When connected it also runs a fresh
// liveness probe; a probe failure is reported in the snapshot, not returned.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.RLock()
	st := Status{
		State:               m.state,
		Database:            m.dbName,
		Connected:           m.connected,
		AuthFailed:          m.authFailed,
		DatabaseInitialized: m.dbReady,
		LastError:           m.lastErr,
	}
	client := m.client
	m.mu.RUnlock()

	if st.Connected && client != nil {
		st.Probe = probe(ctx, client)
	}
	return st
}

// Close releases the pooled client. Calling it more than once is harmless.
func (m *Manager) Close(ctx context.Context) error {
	released, err := m.release(ctx)
	if !released {
		return nil
	}
	if err != nil {
		return fmt.Errorf("close database client: %w", err)
	}
	m.logger.Info().Msg("database connection closed")
	return nil
}

func (m *Manager) release(ctx context.Context) (bool, error) {
	m.mu.Lock()
	client := m.client
	if client == nil {
		m.mu.Unlock()
		return false, nil
	}
	m.client = nil
	m.connected = false
	m.dbReady = false
	m.state = StateDisconnected
	m.mu.Unlock()

	err := client.Disconnect(context.WithoutCancel(ctx))
	m.notify(StateDisconnected)
	return true, err
}

// IsConnected reports whether the server was reachable at initialization.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// DatabaseInitialized reports whether the named database was accessible.
func (m *Manager) DatabaseInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dbReady
}

// Collection returns a handle bound to the manager rather than to the current
// client, so it stays valid across Close and a later Initialize.
func (m *Manager) Collection(name string) (store.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &boundCollection{manager: m, name: name}, nil
}

func (m *Manager) current(name string) (store.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.dbReady {
		return nil, mongo.ErrClientDisconnected
	}
	return m.client.Collection(m.dbName, name), nil
}

func (m *Manager) set(client Client, dbName string, state State, connected, dbReady, authFailed bool, lastErr string) {
	m.mu.Lock()
	m.client = client
	m.dbName = dbName
	m.state = state
	m.connected = connected
	m.dbReady = dbReady
	m.authFailed = authFailed
	m.lastErr = lastErr
	m.mu.Unlock()
	m.notify(state)
}

func (m *Manager) notify(state State) {
	if m.onState != nil {
		m.onState(state)
	}
}

func probe(ctx context.Context, client Client) *Probe {
	start := time.Now()
	err := client.Ping(ctx)
	p := &Probe{LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		p.Error = err.Error()
		p.Failure = classifyProbe(err)
		return p
	}
	p.OK = true
	return p
}

// Auth failure codes: Unauthorized, AuthenticationFailed.
var authErrorCodes = []int{13, 18}

// Handshake failures surface as client errors rather than server errors.
var handshakeAuthMarkers = []string{"auth error", "authentication failed", "unable to authenticate"}

// classifyProbe checks timeouts and network failures first: their text often
// names the host, which may itself contain "auth".
func classifyProbe(err error) ProbeFailure {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return ProbeTransient
	}
	msg := strings.ToLower(err.Error())
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range authErrorCodes {
			if serverErr.HasErrorCode(code) {
				return ProbeAuth
			}
		}
		if strings.Contains(msg, "auth") {
			return ProbeAuth
		}
	}
	for _, marker := range handshakeAuthMarkers {
		if strings.Contains(msg, marker) {
			return ProbeAuth
		}
	}
	if reliability.IsTransient(err) {
		return ProbeTransient
	}
	return ProbeUnknown
}

type boundCollection struct {
	manager *Manager
	name    string
}

func (c *boundCollection) Find(ctx context.Context, filter any, projection any) ([]bson.Raw, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return nil, err
	}
	return coll.Find(ctx, filter, projection)
}

func (c *boundCollection) FindOne(ctx context.Context, filter any) (bson.Raw, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return nil, err
	}
	return coll.FindOne(ctx, filter)
}

func (c *boundCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return nil, err
	}
	return coll.InsertOne(ctx, doc)
}

func (c *boundCollection) UpdateOne(ctx context.Context, filter any, update any) (*mongo.UpdateResult, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return nil, err
	}
	return coll.UpdateOne(ctx, filter, update)
}

func (c *boundCollection) DeleteOne(ctx context.Context, filter any) (*mongo.DeleteResult, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return nil, err
	}
	return coll.DeleteOne(ctx, filter)
}

func (c *boundCollection) DeleteMany(ctx context.Context, filter any) (*mongo.DeleteResult, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return nil, err
	}
	return coll.DeleteMany(ctx, filter)
}

func (c *boundCollection) CreateIndex(ctx context.Context, spec store.IndexSpec) (string, error) {
	coll, err := c.manager.current(c.name)
	if err != nil {
		return "", err
	}
	return coll.CreateIndex(ctx, spec)
}
