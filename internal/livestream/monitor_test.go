package livestream

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/gateway/gatewaytest"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
)

func disconnectedFor(env *testEnv, d time.Duration, window int) func(*models.LiveStream) {
	return func(s *models.LiveStream) {
		at := env.now.Add(-d)
		s.DisconnectedAt = &at
		s.ReconnectWindowSeconds = window
	}
}

func TestSweep_WithinWindowUntouched(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 30*time.Second, 60))

	remediated, err := env.engine.Sweep(context.Background(), env.now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(remediated) != 0 {
		t.Fatalf("expected nothing remediated, got %d", len(remediated))
	}
	if n := env.fake.Calls("DisableStream"); n != 0 {
		t.Errorf("expected no DisableStream calls, got %d", n)
	}
	if got := env.reload(t, seeded.ID); got.Version != seeded.Version {
		t.Error("expected record untouched")
	}
}

func TestSweep_PastWindowDisabled(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 90*time.Second, 60))

	remediated, err := env.engine.Sweep(context.Background(), env.now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(remediated) != 1 || remediated[0].ID != seeded.ID {
		t.Fatalf("expected seeded stream remediated, got %+v", remediated)
	}
	if n := env.fake.Calls("DisableStream"); n != 1 {
		t.Errorf("expected DisableStream exactly once, got %d", n)
	}

	got := env.reload(t, seeded.ID)
	if got.Status != models.StreamStatusDisabled {
		t.Errorf("expected disabled, got %q", got.Status)
	}
	assertDisconnectedInvariant(t, got)

	payload := env.pub.last(events.EventStreamStatusUpdated)
	if payload == nil {
		t.Fatal("expected stream.status.updated")
	}
	if payload["reason"] != ReasonAutoDisabled {
		t.Errorf("expected reason auto-disabled, got %v", payload["reason"])
	}
	if payload["elapsed_seconds"] != int64(90) || payload["reconnect_window_seconds"] != 60 {
		t.Errorf("unexpected timing fields: %v", payload)
	}

	// A second sweep finds nothing.
	if again, _ := env.engine.Sweep(context.Background(), env.now); len(again) != 0 {
		t.Errorf("expected second sweep to be a no-op, got %d", len(again))
	}
	if n := env.fake.Calls("DisableStream"); n != 1 {
		t.Errorf("expected no further DisableStream calls, got %d", n)
	}
}

func TestSweep_BoundaryIsStrict(t *testing.T) {
	env := newTestEnv(t)
	exact := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 60*time.Second, 60))
	zero := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, time.Second, 0))

	remediated, err := env.engine.Sweep(context.Background(), env.now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(remediated) != 1 || remediated[0].ID != zero.ID {
		t.Fatalf("expected only the zero-window stream remediated, got %+v", remediated)
	}
	if got := env.reload(t, exact.ID); got.Status != models.StreamStatusDisconnected {
		t.Errorf("elapsed == window must not disable, got %q", got.Status)
	}
}

func TestSweep_GatewayFailureSkipsRecord(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 5*time.Minute, 60))
	env.fake.Fail["DisableStream"] = gateway.ErrUnavailable

	remediated, err := env.engine.Sweep(context.Background(), env.now)
	if err != nil {
		t.Fatalf("Sweep must not fail on gateway errors: %v", err)
	}
	if len(remediated) != 0 {
		t.Fatalf("expected nothing remediated, got %d", len(remediated))
	}
	got := env.reload(t, seeded.ID)
	if got.Status != models.StreamStatusDisconnected || got.DisconnectedAt == nil {
		t.Errorf("expected record left disconnected, got %+v", got)
	}

	delete(env.fake.Fail, "DisableStream")
	if remediated, _ := env.engine.Sweep(context.Background(), env.now); len(remediated) != 1 {
		t.Errorf("expected retry on next sweep to succeed, got %d", len(remediated))
	}
}

func TestSweep_IgnoresOtherStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, models.StreamStatusActive, nil)
	env.seed(t, models.StreamStatusDisabled, nil)
	env.seed(t, models.StreamStatusIdle, nil)

	remediated, err := env.engine.Sweep(context.Background(), env.now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(remediated) != 0 || env.fake.Calls("DisableStream") != 0 {
		t.Errorf("expected only disconnected streams to be considered")
	}
}

// disableHook runs afterDisable once the remote stream has been disabled.
type disableHook struct {
	*gatewaytest.Fake
	afterDisable func()
}

func (g *disableHook) DisableStream(ctx context.Context, id string) error {
	err := g.Fake.DisableStream(ctx, id)
	if err == nil && g.afterDisable != nil {
		g.afterDisable()
	}
	return err
}

func TestSweep_ReconnectDuringRemoteDisable(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 90*time.Second, 60))

	hooked := &disableHook{Fake: env.fake}
	hooked.afterDisable = func() {
		env.engine.Ingest(context.Background(), StatusNotification{RemoteStreamID: seeded.RemoteID(), Status: models.StreamStatusActive})
	}
	engine := NewEngine(env.store, hooked, env.pub, zerolog.Nop(), Options{Now: func() time.Time { return env.now }})

	remediated, err := engine.Sweep(context.Background(), env.now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(remediated) != 1 {
		t.Fatalf("expected the stream remediated, got %d", len(remediated))
	}
	if n := env.fake.Calls("EnableStream"); n != 0 {
		t.Errorf("expected no re-enable of the remote stream, got %d calls", n)
	}

	got := env.reload(t, seeded.ID)
	if got.Status != models.StreamStatusDisabled {
		t.Fatalf("expected local disabled to match remote, got %q", got.Status)
	}
	assertDisconnectedInvariant(t, got)
	remote, _ := env.fake.Stream(seeded.RemoteID())
	if remote.Status != gateway.RemoteStatusDisabled {
		t.Errorf("expected remote disabled, got %q", remote.Status)
	}

	payload := env.pub.last(events.EventStreamStatusUpdated)
	if payload == nil || payload["previous_status"] != string(models.StreamStatusActive) || payload["reconnected_during_disable"] != true {
		t.Errorf("unexpected stream.status.updated payload: %v", payload)
	}

	// Reading back converges on the same state.
	read, err := engine.Get(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if read.Status != models.StreamStatusDisabled {
		t.Errorf("expected disabled after reconcile, got %q", read.Status)
	}
}

// scanHook runs afterScan once the sweep has queried its candidates.
type scanHook struct {
	store.Store
	afterScan func()
}

func (s *scanHook) FindWhere(ctx context.Context, filter store.Filter) ([]models.LiveStream, error) {
	out, err := s.Store.FindWhere(ctx, filter)
	if s.afterScan != nil {
		s.afterScan()
	}
	return out, err
}

func TestSweep_ReconnectAfterScanSkipsRemote(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 90*time.Second, 60))

	hooked := &scanHook{Store: env.store}
	hooked.afterScan = func() {
		env.engine.Ingest(context.Background(), StatusNotification{RemoteStreamID: seeded.RemoteID(), Status: models.StreamStatusActive})
	}
	engine := NewEngine(hooked, env.fake, env.pub, zerolog.Nop(), Options{Now: func() time.Time { return env.now }})

	remediated, err := engine.Sweep(context.Background(), env.now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(remediated) != 0 {
		t.Fatalf("expected nothing remediated, got %d", len(remediated))
	}
	if n := env.fake.Calls("DisableStream"); n != 0 {
		t.Errorf("expected no remote disable for a recovered stream, got %d", n)
	}
	if got := env.reload(t, seeded.ID); got.Status != models.StreamStatusActive {
		t.Errorf("expected active, got %q", got.Status)
	}
}

func TestSweep_RemoteMissingWarnsOnce(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seed(t, models.StreamStatusDisconnected, disconnectedFor(env, 5*time.Minute, 60))
	_ = env.fake.DeleteStream(context.Background(), seeded.RemoteID())

	var logs bytes.Buffer
	engine := NewEngine(env.store, env.fake, env.pub, zerolog.New(&logs), Options{Now: func() time.Time { return env.now }})

	for i := 0; i < 3; i++ {
		if remediated, err := engine.Sweep(context.Background(), env.now); err != nil || len(remediated) != 0 {
			t.Fatalf("sweep %d: remediated=%d err=%v", i, len(remediated), err)
		}
	}

	warnings := 0
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, `"level":"warn"`) && strings.Contains(line, "remote stream not found") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("expected one warning for the missing remote stream, got %d\n%s", warnings, logs.String())
	}
	if strings.Contains(logs.String(), "will retry next sweep") {
		t.Error("missing remote stream must not be reported as a transient failure")
	}
	if got := env.reload(t, seeded.ID); got.Status != models.StreamStatusDisconnected {
		t.Errorf("expected record left disconnected, got %q", got.Status)
	}
}
