package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
)

// At package initialisation configure the standard logger to include
// timestamps and file/line information.  This aids in debugging while
// remaining light weight.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

var minLevel = LevelInfo

func init() {
	stdlog.SetFlags(stdlog.LstdFlags | stdlog.Lshortfile)
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		minLevel = LevelDebug
	case "error":
		minLevel = LevelError
	default:
		minLevel = LevelInfo
	}
}

// Entry provides a minimal structure for logging contextual
// information.  Each Entry carries a pairing code and a phone number
// which are included in log output.  The service name is hard coded
// as "whatsmeow-linker".
type Entry struct {
	Code  string
	Phone string
}

// WithCode constructs a new Entry with the given pairing code.  Use
// this helper when logging events associated with a particular code.
func WithCode(code string) *Entry {
	return &Entry{Code: code}
}

// WithPhone returns a copy of the current entry with the supplied
// phone number set.
func (e *Entry) WithPhone(phone string) *Entry {
	return &Entry{Code: e.Code, Phone: phone}
}

// Info emits an informational log message.  The service, code and
// phone identifiers are automatically included as structured fields.
func (e *Entry) Info(format string, args ...interface{}) {
	if minLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	stdlog.Printf("level=info service=whatsmeow-linker code=%s phone=%s %s", e.Code, e.Phone, msg)
}

// Error emits an error log message.  The service, code and phone
// identifiers are automatically included as structured fields.
func (e *Entry) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	stdlog.Printf("level=error service=whatsmeow-linker code=%s phone=%s %s", e.Code, e.Phone, msg)
}

// Debug emits a debug log message gated by LOG_LEVEL.
func (e *Entry) Debug(format string, args ...interface{}) {
	if minLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	stdlog.Printf("level=debug service=whatsmeow-linker code=%s phone=%s %s", e.Code, e.Phone, msg)
}

// Package-level helpers for logs not tied to a particular Entry.
func Debugf(format string, args ...interface{}) {
	if minLevel > LevelDebug {
		return
	}
	stdlog.Printf("level=debug service=whatsmeow-linker %s", fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	if minLevel > LevelInfo {
		return
	}
	stdlog.Printf("level=info service=whatsmeow-linker %s", fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	stdlog.Printf("level=error service=whatsmeow-linker %s", fmt.Sprintf(format, args...))
}
