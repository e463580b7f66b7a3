package shscull

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelsAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "cull", false)

	l.Infof("visible %d", 42)
	l.Warnf("pool exhausted")
	l.Errorf("device lost")

	out := buf.String()
	for _, want := range []string{"[cull] INFO: visible 42", "[cull] WARN: pool exhausted", "[cull] ERROR: device lost"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestLoggerDebugGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "", false)

	l.Debugf("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug line emitted while gate off")
	}

	l.SetDebug(true)
	if !l.DebugEnabled() {
		t.Fatalf("SetDebug(true) not observed")
	}
	l.Debugf("shown")
	if !strings.Contains(buf.String(), "DEBUG: shown") {
		t.Errorf("debug line missing after enabling gate:\n%s", buf.String())
	}
}

func TestAppLoggerFallsBackToNop(t *testing.T) {
	app := NewApp()
	if app.Logger() == nil {
		t.Fatal("Logger must never be nil")
	}

	app.UseModules(LoggingModule{Prefix: "demo"}).Build()
	if _, ok := app.Logger().(*DefaultLogger); !ok {
		t.Errorf("expected installed DefaultLogger, got %T", app.Logger())
	}
}
