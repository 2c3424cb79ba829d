package cli

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dunamismax/solarprep/internal/domain"
)

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, log.InfoLevel)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level, got %q", buf.String())
	}
	logger.SetLevel(log.DebugLevel)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}

func TestLoggerContext(t *testing.T) {
	if loggerFromContext(context.Background()) != log.Default() {
		t.Fatal("expected the default logger without one attached")
	}
	l := newLogger(&bytes.Buffer{}, log.InfoLevel)
	if loggerFromContext(withLogger(context.Background(), l)) != l {
		t.Fatal("expected the attached logger")
	}
}

func TestProgressReport(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(newLogger(&buf, log.InfoLevel))

	var s domain.Summary
	s.Add(domain.FileResult{Name: "a.jpg", Outputs: []domain.Output{{Name: "a.jpg"}}})
	s.Add(domain.FileResult{Name: "b.jpg", Error: "bad header"})
	p.report("crop", s)

	if !strings.Contains(buf.String(), "crop: 2 files, 1 written, 1 failed") {
		t.Fatalf("unexpected report %q", buf.String())
	}
}
