package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelsAndScope(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, LevelInfo, false)

	l.Debug("hidden %d", 1)
	l.Info("plain")
	l.Scoped("seg-2").Warn("slow %s", "server")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out, "[INFO] plain") {
		t.Errorf("missing info line in %q", out)
	}
	if !strings.Contains(out, "[WARN] [seg-2] slow server") {
		t.Errorf("missing scoped warning in %q", out)
	}
}

func TestStdoutEcho(t *testing.T) {
	var file, stdout bytes.Buffer
	l := NewWriter(&file, LevelDebug, true)
	l.stdout = &stdout

	l.Debug("quiet")
	l.Error("loud")

	if strings.Contains(stdout.String(), "quiet") {
		t.Error("debug echoed to stdout")
	}
	if !strings.Contains(stdout.String(), "loud") || !strings.Contains(file.String(), "quiet") {
		t.Error("lines not routed as expected")
	}
}

func TestWriteTrimsNewline(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, LevelInfo, false)

	n, err := l.Write([]byte("GET /api/jobs\n"))
	if err != nil || n != len("GET /api/jobs\n") {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("expected a single line, got %q", buf.String())
	}
}

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	for i := 0; i < 2; i++ {
		l, err := New(path, LevelInfo, false)
		if err != nil {
			t.Fatal(err)
		}
		l.Info("run")
		l.Close()
	}

	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "run") != 2 {
		t.Errorf("log file not appended: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, "WARN": LevelWarn, "error": LevelError, "info": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
