package mirror

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"

	ilog "your.org/whatsmeow-linker/internal/log"
	"your.org/whatsmeow-linker/internal/status"
)

// watchQR consumes the whatsmeow QR channel opened before Connect.
// Each "code" item is rendered to a PNG off the event path and stored
// as the latest payload.  Past the attempt cap the payload is still
// stored but the mirror flags that manual intervention is required.
func (m *Mirror) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			m.handleQRCode(item.Code)
		case "success":
			// The Connected event performs the actual transition;
			// the payload is no longer needed.
			m.mu.Lock()
			m.qrRaw, m.qrPNG = "", ""
			m.mu.Unlock()
		case "timeout":
			// whatsmeow gives up on pairing after a few codes; treat
			// it like a transient close so a fresh channel is opened.
			m.handleClosed(reasonTransient, "qr timeout", backoffTransient)
			return
		case "error":
			ilog.Errorf("qr channel error: %v", item.Error)
		}
	}
}

func (m *Mirror) handleQRCode(raw string) {
	// Rendering is the only I/O-bound step here and it runs on the
	// watcher goroutine, never blocking HTTP handlers.
	png, err := qrcode.Encode(raw, qrcode.Medium, 256)
	if err != nil {
		ilog.Errorf("qr encode: %v", err)
		return
	}
	b64 := base64.StdEncoding.EncodeToString(png)
	now := m.now()

	m.mu.Lock()
	m.qrRaw = raw
	m.qrPNG = b64
	m.qrAttempts++
	m.lastEventAt = now
	if m.state == StateConnecting {
		m.state = StateQRReady
	}
	if m.qrAttempts > m.maxQRAttempts {
		m.manualRequired = true
	}
	attempts := m.qrAttempts
	manual := m.manualRequired
	deviceJID := m.deviceJID
	m.mu.Unlock()

	if manual {
		ilog.Errorf("qr attempt %d exceeds cap, manual intervention required", attempts)
	} else {
		ilog.Infof("qr code ready attempt=%d", attempts)
	}
	status.Set(deviceJID, string(StateQRReady))
	m.writeSessionInfo(attempts, manual, now)
}
