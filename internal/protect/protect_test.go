package protect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProtectUnprotect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machineId")
	if err := os.WriteFile(path, []byte("id"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	c := New()
	if c.IsProtected(path) {
		t.Fatal("fresh file reported as protected")
	}

	if !c.Protect(path) {
		t.Fatal("Protect() returned false")
	}
	t.Cleanup(func() { c.Unprotect(path) })

	if !c.IsProtected(path) {
		t.Error("IsProtected() = false after Protect()")
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm()&0222 != 0 {
		t.Errorf("write bits still set: %v", info.Mode().Perm())
	}

	if os.Geteuid() != 0 {
		if err := os.WriteFile(path, []byte("overwritten"), 0644); err == nil {
			t.Error("write to protected file succeeded")
		}
	}

	if !c.Unprotect(path) {
		t.Fatal("Unprotect() returned false")
	}
	if c.IsProtected(path) {
		t.Error("IsProtected() = true after Unprotect()")
	}
	if err := os.WriteFile(path, []byte("new"), 0644); err != nil {
		t.Errorf("write after Unprotect() failed: %v", err)
	}
}

func TestProtectMissingFile(t *testing.T) {
	c := New()
	missing := filepath.Join(t.TempDir(), "nope")
	if c.Protect(missing) {
		t.Error("Protect() on a missing file returned true")
	}
	if c.Unprotect(missing) {
		t.Error("Unprotect() on a missing file returned true")
	}
	if c.IsProtected(missing) {
		t.Error("IsProtected() on a missing file returned true")
	}
}

func TestUnprotectIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PermanentUserId")
	os.WriteFile(path, []byte("id"), 0644)

	c := New()
	for i := 0; i < 2; i++ {
		if !c.Unprotect(path) {
			t.Fatalf("Unprotect() #%d returned false", i+1)
		}
	}
	if Mechanism() == "" {
		t.Error("Mechanism() is empty")
	}
}
