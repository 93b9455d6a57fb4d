package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

const testLogPath = "/logs/debug.log"

func newMemWriter(t *testing.T, config RotationConfig) (afero.Fs, *RotatingWriter) {
	t.Helper()
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriterFs(fs, testLogPath, config)
	if err != nil {
		t.Fatalf("NewRotatingWriterFs failed: %v", err)
	}
	t.Cleanup(func() { _ = rw.Close() })
	return fs, rw
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates parent directory and file", func(t *testing.T) {
		fs, rw := newMemWriter(t, DefaultRotationConfig())

		if ok, _ := afero.Exists(fs, testLogPath); !ok {
			t.Error("log file was not created")
		}
		if rw.FilePath() != testLogPath {
			t.Errorf("FilePath() = %q, want %q", rw.FilePath(), testLogPath)
		}
	})

	t.Run("picks up existing size", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		if err := afero.WriteFile(fs, testLogPath, []byte("12345"), 0o644); err != nil {
			t.Fatal(err)
		}
		rw, err := NewRotatingWriterFs(fs, testLogPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriterFs failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if rw.CurrentSize() != 5 {
			t.Errorf("CurrentSize() = %d, want 5", rw.CurrentSize())
		}
	})

	t.Run("fails on read-only filesystem", func(t *testing.T) {
		fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
		if _, err := NewRotatingWriterFs(fs, testLogPath, DefaultRotationConfig()); err == nil {
			t.Error("expected error on read-only filesystem")
		}
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	fs, rw := newMemWriter(t, DefaultRotationConfig())

	if _, err := rw.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write([]byte("world\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = rw.Close()

	content, err := afero.ReadFile(fs, testLogPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello\nworld\n" {
		t.Errorf("content = %q", content)
	}

	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestRotatingWriterRotation(t *testing.T) {
	fs, rw := newMemWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	_ = rw.Close()

	for _, p := range []string{testLogPath, testLogPath + ".1", testLogPath + ".2"} {
		if ok, _ := afero.Exists(fs, p); !ok {
			t.Errorf("expected %s to exist", p)
		}
	}
	if ok, _ := afero.Exists(fs, testLogPath+".3"); ok {
		t.Error("backups beyond MaxBackups should be removed")
	}

	info, err := fs.Stat(testLogPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current file size = %d, want %d", info.Size(), len(chunk))
	}
}

func TestRotatingWriterNoBackups(t *testing.T) {
	fs, rw := newMemWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})

	chunk := bytes.Repeat([]byte("y"), 700*1024)
	_, _ = rw.Write(chunk)
	_, _ = rw.Write(chunk)
	_ = rw.Close()

	if ok, _ := afero.Exists(fs, testLogPath+".1"); ok {
		t.Error("no backup should be kept when MaxBackups is 0")
	}
}

func TestRotatingWriterCompression(t *testing.T) {
	fs, rw := newMemWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 3, Compress: true})

	first := strings.Repeat("a", 800*1024)
	_, _ = rw.Write([]byte(first))
	_, _ = rw.Write([]byte(strings.Repeat("b", 800*1024)))
	_ = rw.Close()

	if ok, _ := afero.Exists(fs, testLogPath+".1"); ok {
		t.Error("uncompressed backup should be removed after compression")
	}

	f, err := fs.Open(testLogPath + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("reading gzip: %v", err)
	}
	if string(data) != first {
		t.Error("compressed backup does not contain the rotated data")
	}
}

func TestRotatingWriterDisabled(t *testing.T) {
	fs, rw := newMemWriter(t, RotationConfig{MaxSizeMB: 0})

	chunk := bytes.Repeat([]byte("z"), 512*1024)
	for i := 0; i < 4; i++ {
		_, _ = rw.Write(chunk)
	}
	_ = rw.Close()

	if ok, _ := afero.Exists(fs, testLogPath+".1"); ok {
		t.Error("rotation should be disabled when MaxSizeMB is 0")
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
