package progress

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogReporterEmitsEveryN(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	r := NewLog("descargando", 2)
	r.SetTotal(5)
	for i := 0; i < 5; i++ {
		r.Add(1)
	}
	r.Finish()

	out := buf.String()
	if !strings.Contains(out, "processed=2") {
		t.Errorf("output missing processed=2 line:\n%s", out)
	}
	if !strings.Contains(out, "processed=4") {
		t.Errorf("output missing processed=4 line:\n%s", out)
	}
	if !strings.Contains(out, "processed=5") {
		t.Errorf("output missing final processed=5 line:\n%s", out)
	}
	if !strings.Contains(out, "total=5") {
		t.Errorf("output missing total=5:\n%s", out)
	}
	if strings.Contains(out, "processed=1 ") || strings.Contains(out, "processed=3 ") {
		t.Errorf("output has off-interval lines:\n%s", out)
	}
}

func TestLogReporterWithoutTotal(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	r := NewLog("listando", 1)
	r.Add(1)

	out := buf.String()
	if !strings.Contains(out, "processed=1") {
		t.Errorf("output missing processed=1:\n%s", out)
	}
	if strings.Contains(out, "total=") {
		t.Errorf("output mentions total before one was set:\n%s", out)
	}
}

func TestBarReporter(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "descargando", -1)
	b.SetTotal(3)
	b.Add(1)
	b.Add(2)
	b.Finish()

	if buf.Len() == 0 {
		t.Error("bar wrote nothing")
	}
}

func TestAutoFallsBackToLog(t *testing.T) {
	// Test processes never have a tty on stderr, so Auto must return the
	// log reporter.
	if _, ok := Auto("x", 10, -1).(*Log); !ok {
		t.Error("Auto() did not return a *Log without a terminal")
	}
}
