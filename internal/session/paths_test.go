package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv(BaseDirEnv, "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatsync", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(BaseDirEnv, tmp)
	if got := ConfigPath(); got != filepath.Join(tmp, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestSessionFiles(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join("sessions", "test", "daemon.sock")},
		{"lock", LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		{"log", LogPath("test"), filepath.Join("sessions", "test", "logs", "chatsyncd.log")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasSuffix(tt.got, tt.want) {
				t.Errorf("path = %q, want suffix %s", tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(BaseDirEnv, t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}
