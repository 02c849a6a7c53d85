package mitm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyLogOpensLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sslkeys.log")
	w := NewKeyLog(path)
	defer w.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("key log file must not exist before the first write")
	}
	if w.Lines() != 0 {
		t.Fatalf("Lines = %d before any write", w.Lines())
	}

	line := "CLIENT_HANDSHAKE_TRAFFIC_SECRET 00 11\n"
	if _, err := w.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.Lines() != 1 {
		t.Fatalf("Lines = %d, want 1", w.Lines())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != line {
		t.Fatalf("file content = %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestKeyLogRemembersOpenFailure(t *testing.T) {
	w := NewKeyLog(filepath.Join(t.TempDir(), "missing-dir", "keys.log"))
	if _, err := w.Write([]byte("x\n")); err == nil {
		t.Fatal("expected open failure for a missing directory")
	}
	if _, err := w.Write([]byte("x\n")); err == nil {
		t.Fatal("failure must be sticky on later writes")
	}
}
