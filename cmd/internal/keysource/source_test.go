package keysource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("ZAPS_TEST_SECRET", "s3cret")
	got, err := New("env:ZAPS_TEST_SECRET", "test secret").Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveEnvMissing(t *testing.T) {
	_, err := New("env:ZAPS_TEST_SECRET_UNSET", "test secret").Get()
	if err == nil || !strings.Contains(err.Error(), "ZAPS_TEST_SECRET_UNSET") {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := New("file:"+path, "test secret").Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveLiteral(t *testing.T) {
	got, err := New("SOMELITERALSEED", "test secret").Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "SOMELITERALSEED" {
		t.Fatalf("got %q", got)
	}
}

func TestResolvePromptSeam(t *testing.T) {
	src := New("prompt", "test secret")
	src.prompt = func(string) (string, error) { return "typed", nil }
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "typed" {
		t.Fatalf("got %q", got)
	}
}

func TestEmptyValueRejected(t *testing.T) {
	t.Setenv("ZAPS_TEST_SECRET", "   ")
	if _, err := New("env:ZAPS_TEST_SECRET", "test secret").Get(); err == nil {
		t.Fatal("expected error for whitespace-only secret")
	}
}

func TestResolutionCached(t *testing.T) {
	calls := 0
	src := New("prompt", "test secret")
	src.prompt = func(string) (string, error) { calls++; return "once", nil }
	for i := 0; i < 3; i++ {
		if _, err := src.Get(); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("prompt called %d times", calls)
	}
}
