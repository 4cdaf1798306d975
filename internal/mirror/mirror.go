// Package mirror owns the single WhatsApp connection and republishes
// its lifecycle as a small set of named states readable by the HTTP
// surface.  The wire protocol itself belongs entirely to whatsmeow;
// this package only mirrors its events, renders QR payloads and keeps
// the reconnect loop alive.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"your.org/whatsmeow-linker/internal/broker"
	ilog "your.org/whatsmeow-linker/internal/log"
	"your.org/whatsmeow-linker/internal/registry"
	"your.org/whatsmeow-linker/internal/status"
)

// State is the mirrored connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateQRReady      State = "qr_ready"
	StateOnline       State = "online"
)

// Backoffs before re-entering the connect action.  Reconnection runs
// indefinitely; only shutdown stops it.
const (
	backoffTransient = 5 * time.Second
	backoffLoggedOut = 10 * time.Second
	backoffUnknown   = 10 * time.Second
	backoffSetup     = 15 * time.Second
)

type closeReason int

const (
	reasonTransient closeReason = iota
	reasonLoggedOut
	reasonUnknown
)

// Snapshot is a consistent copy of the whole mirror state, taken
// under the lock so concurrent readers never see fields split across
// time.
type Snapshot struct {
	State          State     `json:"state"`
	QRAvailable    bool      `json:"qrAvailable"`
	QRAttempts     int       `json:"qrAttempts"`
	ManualRequired bool      `json:"manualRequired"`
	DeviceJID      string    `json:"deviceJid,omitempty"`
	ConnectedAt    time.Time `json:"connectedAt,omitzero"`
	LastEventAt    time.Time `json:"lastEventAt,omitzero"`
}

// Mirror is the single shared connection-status instance.  whatsmeow
// delivers events sequentially, but HTTP handlers read from arbitrary
// goroutines, so every field lives under one mutex.
type Mirror struct {
	mu             sync.Mutex
	state          State
	qrRaw          string
	qrPNG          string // base64 PNG
	qrAttempts     int
	manualRequired bool
	inFlight       bool
	retryPending   bool
	closed         bool
	deviceJID      string
	connectedAt    time.Time
	lastEventAt    time.Time

	cli *whatsmeow.Client
	db  *sqlstore.Container

	sessionStore  string
	maxQRAttempts int
	registry      *registry.Registry

	// overridable in tests
	now         func() time.Time
	schedule    func(d time.Duration, fn func())
	establishFn func()
}

// New constructs the mirror.  Connect must be called to start the
// session; the zero state is disconnected.
func New(sessionStore string, maxQRAttempts int, reg *registry.Registry) *Mirror {
	m := &Mirror{
		state:         StateDisconnected,
		sessionStore:  sessionStore,
		maxQRAttempts: maxQRAttempts,
		registry:      reg,
		now:           time.Now,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	m.establishFn = m.establish
	return m
}

// Connect transitions to connecting and asks whatsmeow to establish a
// session.  It is idempotent: invoking it while a connect is already
// in flight, while online, or after shutdown is a no-op, since the
// underlying library does not tolerate concurrent connection
// attempts.
func (m *Mirror) Connect() {
	m.mu.Lock()
	if m.closed || m.inFlight || m.state == StateOnline {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.state = StateConnecting
	m.lastEventAt = m.now()
	deviceJID := m.deviceJID
	m.mu.Unlock()

	status.Set(deviceJID, string(StateConnecting))
	ilog.Infof("connecting to WhatsApp")
	go m.establishFn()
}

// establish builds the whatsmeow client over a per-process sqlite
// store and connects.  Any failure here is treated like a transient
// close with a longer backoff.
func (m *Mirror) establish() {
	ctx := context.Background()

	if err := m.setup(ctx); err != nil {
		ilog.Errorf("session setup failed: %v", err)
		m.handleClosed(reasonUnknown, "setup: "+err.Error(), backoffSetup)
	}
}

func (m *Mirror) setup(ctx context.Context) error {
	if err := os.MkdirAll(m.sessionStore, 0o755); err != nil {
		return fmt.Errorf("mkdir session store: %w", err)
	}

	// Drop any client left over from a previous attempt.
	m.mu.Lock()
	oldCli, oldDB := m.cli, m.db
	m.cli, m.db = nil, nil
	m.mu.Unlock()
	if oldCli != nil {
		oldCli.Disconnect()
	}
	if oldDB != nil {
		_ = oldDB.Close()
	}

	dbPath := filepath.Join(m.sessionStore, "session.db")
	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	// PRAGMAs reduce SQLITE_BUSY errors under the WAL journal.
	dsn := fmt.Sprintf(
		"file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		dbPath,
	)
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return fmt.Errorf("sqlstore.New: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get first device: %w", err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	cli := whatsmeow.NewClient(device, clientLog)
	// The mirror owns reconnect scheduling and backoff classification.
	cli.EnableAutoReconnect = false
	cli.AutoTrustIdentity = true
	cli.AddEventHandler(m.HandleEvent)

	// The QR channel must be opened before Connect and only exists
	// for stores without a paired device.
	if cli.Store == nil || cli.Store.ID == nil {
		qrCh, err := cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go m.watchQR(qrCh)
	} else {
		m.mu.Lock()
		m.deviceJID = cli.Store.ID.String()
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.cli = cli
	m.db = container
	m.mu.Unlock()

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// HandleEvent is registered as the whatsmeow event handler.  Exported
// so tests can drive the state machine directly.
func (m *Mirror) HandleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		m.mu.Lock()
		m.deviceJID = e.ID.String()
		m.lastEventAt = m.now()
		m.mu.Unlock()
		ilog.Infof("paired with device %s", e.ID.String())
	case *events.Connected:
		m.handleOpen()
	case *events.LoggedOut:
		ilog.Errorf("logged out by remote, purging local credentials")
		m.handleClosed(reasonLoggedOut, "logged out", backoffLoggedOut)
	case *events.StreamReplaced:
		m.handleClosed(reasonTransient, "stream replaced", backoffTransient)
	case *events.Disconnected:
		m.handleClosed(reasonTransient, "connection lost", backoffTransient)
	case *events.ConnectFailure:
		m.handleClosed(reasonUnknown, fmt.Sprintf("connect failure: %v", e.Reason), backoffUnknown)
	default:
		// Messages, receipts and presence are out of scope here.
	}
}

// handleOpen mirrors the established session: every pending pairing
// code becomes linked and the connection metadata is persisted.
func (m *Mirror) handleOpen() {
	now := m.now()

	m.mu.Lock()
	m.state = StateOnline
	m.inFlight = false
	m.qrAttempts = 0
	m.manualRequired = false
	m.qrRaw, m.qrPNG = "", ""
	m.connectedAt = now
	m.lastEventAt = now
	if m.cli != nil && m.cli.Store != nil && m.cli.Store.ID != nil {
		m.deviceJID = m.cli.Store.ID.String()
	}
	deviceJID := m.deviceJID
	m.mu.Unlock()

	linked := m.registry.MarkAllPendingLinked(now)
	ilog.Infof("session online device=%s linked=%d", deviceJID, linked)

	status.Set(deviceJID, string(StateOnline))
	m.writeConnectionInfo(deviceJID, now)
	if err := broker.Publish(broker.RouteSessionLinked, map[string]any{
		"device":      deviceJID,
		"linkedCodes": linked,
	}); err != nil {
		ilog.Errorf("publish session.linked: %v", err)
	}
}

// handleClosed mirrors a dropped session and schedules the next
// connect attempt.  A logout is destructive: local credentials are
// purged first so the next attempt starts a fresh QR pairing.
func (m *Mirror) handleClosed(reason closeReason, detail string, backoff time.Duration) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.inFlight = false
	m.lastEventAt = m.now()
	deviceJID := m.deviceJID
	closed := m.closed
	m.mu.Unlock()

	ilog.Infof("session closed reason=%q retry_in=%s", detail, backoff)
	status.Set(deviceJID, string(StateDisconnected))

	if reason == reasonLoggedOut {
		m.purgeCredentials()
		if err := broker.Publish(broker.RouteSessionLoggedOut, map[string]any{
			"device": deviceJID,
		}); err != nil {
			ilog.Errorf("publish session.logged_out: %v", err)
		}
	}

	if closed {
		return
	}
	m.scheduleReconnect(backoff)
}

// scheduleReconnect arms a single pending reconnect.  Duplicate close
// signals (QR timeout racing a disconnect event) collapse into one
// scheduled attempt.
func (m *Mirror) scheduleReconnect(backoff time.Duration) {
	m.mu.Lock()
	if m.closed || m.retryPending {
		m.mu.Unlock()
		return
	}
	m.retryPending = true
	m.mu.Unlock()

	m.schedule(backoff, func() {
		m.mu.Lock()
		m.retryPending = false
		m.mu.Unlock()
		m.Connect()
	})
}

// purgeCredentials deletes the sqlite session store so the device is
// forgotten.  Called only on remote logout.
func (m *Mirror) purgeCredentials() {
	m.mu.Lock()
	cli, db := m.cli, m.db
	m.cli, m.db = nil, nil
	m.deviceJID = ""
	m.mu.Unlock()

	if cli != nil {
		cli.Disconnect()
	}
	if db != nil {
		_ = db.Close()
	}
	if err := os.RemoveAll(m.sessionStore); err != nil {
		ilog.Errorf("purge session store: %v", err)
		return
	}
	ilog.Infof("local session credentials purged")
}

// Snapshot returns a copy of the current mirror state.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:          m.state,
		QRAvailable:    m.qrPNG != "",
		QRAttempts:     m.qrAttempts,
		ManualRequired: m.manualRequired,
		DeviceJID:      m.deviceJID,
		ConnectedAt:    m.connectedAt,
		LastEventAt:    m.lastEventAt,
	}
}

// QRImage returns the last rendered QR code as a base64 PNG.
func (m *Mirror) QRImage() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.qrPNG == "" {
		return "", false
	}
	return m.qrPNG, true
}

// Shutdown stops the reconnect loop and disconnects the client.  No
// further attempts are scheduled afterwards.
func (m *Mirror) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.state = StateDisconnected
	m.inFlight = false
	cli, db := m.cli, m.db
	m.cli, m.db = nil, nil
	m.mu.Unlock()

	if cli != nil {
		cli.Disconnect()
	}
	if db != nil {
		_ = db.Close()
	}
}
