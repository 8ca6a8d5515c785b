package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestPrintfNamesComponent formats printf-style and tags the component.
func TestPrintfNamesComponent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	logf := Printf(zap.New(core), "apiclient")
	logf("circuit %s -> %s", "closed", "open")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	if e := entries[0]; e.Message != "circuit closed -> open" || e.LoggerName != "apiclient" {
		t.Fatalf("entry=%+v", e)
	}
}

// TestStdWritesErrors routes the standard logger at error level.
func TestStdWritesErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	Std(zap.New(core), "http").Print("tls handshake error")

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zap.ErrorLevel || entries[0].Message != "tls handshake error" {
		t.Fatalf("entries=%+v", entries)
	}
}

// TestNewModes builds both logger flavours.
func TestNewModes(t *testing.T) {
	t.Parallel()

	for _, debug := range []bool{false, true} {
		l, err := New(debug)
		if err != nil {
			t.Fatalf("New(%v): %v", debug, err)
		}
		if got := l.Core().Enabled(zap.DebugLevel); got != debug {
			t.Fatalf("New(%v) debug enabled=%v", debug, got)
		}
	}
}
