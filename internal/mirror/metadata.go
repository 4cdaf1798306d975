package mirror

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	ilog "your.org/whatsmeow-linker/internal/log"
)

// Small JSON files written next to the session database, for
// diagnostics only.  They are never read back by the linker.
const (
	sessionInfoFile    = "session-info.json"
	connectionInfoFile = "connection-info.json"
)

type sessionInfo struct {
	QRAttempts     int       `json:"qrAttempts"`
	ManualRequired bool      `json:"manualRequired"`
	LastQRAt       time.Time `json:"lastQrAt"`
}

type connectionInfo struct {
	DeviceJID   string    `json:"deviceJid"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func (m *Mirror) writeSessionInfo(attempts int, manual bool, at time.Time) {
	m.writeMetadata(sessionInfoFile, sessionInfo{
		QRAttempts:     attempts,
		ManualRequired: manual,
		LastQRAt:       at,
	})
}

func (m *Mirror) writeConnectionInfo(deviceJID string, at time.Time) {
	m.writeMetadata(connectionInfoFile, connectionInfo{
		DeviceJID:   deviceJID,
		ConnectedAt: at,
	})
}

func (m *Mirror) writeMetadata(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		ilog.Errorf("marshal %s: %v", name, err)
		return
	}
	if err := os.MkdirAll(m.sessionStore, 0o755); err != nil {
		ilog.Errorf("mkdir session store: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(m.sessionStore, name), data, 0o644); err != nil {
		ilog.Errorf("write %s: %v", name, err)
	}
}
