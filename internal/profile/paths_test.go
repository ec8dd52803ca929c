package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".pigeon", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestDataDir(t *testing.T) {
	got := DataDir("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "data")) {
		t.Errorf("DataDir(test) = %q, want suffix profiles/test/data", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix profiles/test/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("profiles", "test", "logs", "pigeond.log")) {
		t.Errorf("LogPath(test) = %q, want suffix profiles/test/logs/pigeond.log", got)
	}
}
