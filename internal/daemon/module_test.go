package daemon

import (
	"os"
	"testing"

	"github.com/pigeon-im/pigeon/internal/config"
	"github.com/pigeon-im/pigeon/internal/lock"
	"github.com/pigeon-im/pigeon/internal/session"
	"github.com/pigeon-im/pigeon/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestModuleLifecycleWithoutCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p := Params{SessionName: "test", Config: *config.Defaults()}

	var machine *status.Machine
	app := fxtest.New(t, Module(p), fx.Populate(&machine))
	app.RequireStart()

	// No stored token: the session must come up waiting for auth, not
	// trying to connect.
	if got := machine.Current(); got != status.AuthRequired {
		t.Errorf("state = %v, want AuthRequired", got)
	}

	// The lock must be held while the daemon runs.
	if _, err := lock.Acquire(session.LockPath("test")); err == nil {
		t.Error("second lock acquisition should fail while daemon runs")
	}

	app.RequireStop()

	// After shutdown the lock is free again.
	l, err := lock.Acquire(session.LockPath("test"))
	if err != nil {
		t.Fatalf("lock still held after stop: %v", err)
	}
	_ = l.Release()
}

func TestModuleCreatesSessionLayout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p := Params{SessionName: "layout", Config: *config.Defaults()}
	app := fxtest.New(t, Module(p))
	app.RequireStart()
	defer app.RequireStop()

	for _, path := range []string{
		session.Dir("layout"),
		session.CacheDBPath("layout"),
		session.LogPath("layout"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}
}
