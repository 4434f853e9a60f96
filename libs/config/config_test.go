package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntAndDuration(t *testing.T) {
	t.Setenv("AGENDA_TEST_INT", "42")
	t.Setenv("AGENDA_TEST_BAD_INT", "x")
	t.Setenv("AGENDA_TEST_DUR", "15m")

	if n, err := Int("AGENDA_TEST_INT", 1); err != nil || n != 42 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	if n, err := Int("AGENDA_TEST_MISSING", 7); err != nil || n != 7 {
		t.Fatalf("Int fallback = %d, %v", n, err)
	}
	if _, err := Int("AGENDA_TEST_BAD_INT", 1); err == nil {
		t.Fatalf("expected error for bad int")
	}
	if d, err := Duration("AGENDA_TEST_DUR", time.Second); err != nil || d != 15*time.Minute {
		t.Fatalf("Duration = %s, %v", d, err)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("AGENDA_TEST_BOOL", "off")
	t.Setenv("AGENDA_TEST_LIST", " a, ,b ,c")

	if Bool("AGENDA_TEST_BOOL", true) {
		t.Fatalf("expected false")
	}
	if !Bool("AGENDA_TEST_BOOL_MISSING", true) {
		t.Fatalf("expected fallback true")
	}
	got := List("AGENDA_TEST_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("List = %#v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("AGENDA_DOTENV_KEY=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("AGENDA_DOTENV_KEY") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := String("AGENDA_DOTENV_KEY", ""); got != "from-file" {
		t.Fatalf("got %q", got)
	}
}
