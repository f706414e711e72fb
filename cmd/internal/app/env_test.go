package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("RELAY_TEST_STR", "")
	if got := EnvString("RELAY_TEST_STR", "def"); got != "def" {
		t.Fatalf("empty: got %q", got)
	}
	t.Setenv("RELAY_TEST_STR", "  value  ")
	if got := EnvString("RELAY_TEST_STR", "def"); got != "value" {
		t.Fatalf("trim: got %q", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("RELAY_TEST_BOOL", "")
	if !EnvBool("RELAY_TEST_BOOL", true) {
		t.Fatal("empty should use default")
	}
	t.Setenv("RELAY_TEST_BOOL", "false")
	if EnvBool("RELAY_TEST_BOOL", true) {
		t.Fatal("false not parsed")
	}
	t.Setenv("RELAY_TEST_BOOL", "junk")
	if !EnvBool("RELAY_TEST_BOOL", true) {
		t.Fatal("junk should use default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "42")
	if got := EnvInt("RELAY_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("RELAY_TEST_INT", "-3")
	if got := EnvInt("RELAY_TEST_INT", 7); got != 7 {
		t.Fatalf("non-positive should use default, got %d", got)
	}
	t.Setenv("RELAY_TEST_INT", "junk")
	if got := EnvInt("RELAY_TEST_INT", 7); got != 7 {
		t.Fatalf("junk should use default, got %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("RELAY_TEST_DUR", "250ms")
	if got := EnvDuration("RELAY_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("got %v", got)
	}
	t.Setenv("RELAY_TEST_DUR", "-1s")
	if got := EnvDuration("RELAY_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("non-positive should use default, got %v", got)
	}
}
