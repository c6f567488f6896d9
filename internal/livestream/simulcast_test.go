package livestream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/gateway/gatewaytest"
	"github.com/friendsincode/ottlive/internal/models"
)

func seedTwoTargets(t *testing.T, env *testEnv) *models.LiveStream {
	t.Helper()
	return env.seed(t, models.StreamStatusActive, withTargets(
		models.SimulcastTarget{ID: "t1", Name: "A", URL: "rtmp://a", StreamKey: "k1", Status: models.TargetStatusConnected},
		models.SimulcastTarget{ID: "t2", Name: "B", URL: "rtmp://b", StreamKey: "k2", Status: models.TargetStatusDisconnected},
	))
}

func TestUpdateSimulcastTargets_DeletesUnmatched(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedTwoTargets(t, env)

	result, err := env.engine.UpdateSimulcastTargets(context.Background(), seeded.ID, []models.SimulcastTarget{
		{URL: "rtmp://a", StreamKey: "k1"},
	})
	if err != nil {
		t.Fatalf("UpdateSimulcastTargets: %v", err)
	}

	if n := env.fake.Calls("DeleteSimulcastTarget"); n != 1 {
		t.Errorf("expected one delete, got %d", n)
	}
	if n := env.fake.Calls("CreateSimulcastTarget"); n != 0 {
		t.Errorf("expected zero creates, got %d", n)
	}
	if len(result.Targets) != 1 || result.Targets[0].ID != "t1" {
		t.Fatalf("expected single target t1, got %+v", result.Targets)
	}
	if result.Deleted != 1 || result.Added != 0 || len(result.Failures) != 0 {
		t.Errorf("unexpected counts: %+v", result)
	}

	remote, _ := env.fake.Stream(seeded.RemoteID())
	if len(remote.SimulcastTargets) != 1 || remote.SimulcastTargets[0].ID != "t1" {
		t.Errorf("expected remote to keep only t1, got %+v", remote.SimulcastTargets)
	}
	payload := env.pub.last(events.EventSimulcastTargetsUpdated)
	if payload == nil || payload["deleted"] != 1 || payload["added"] != 0 {
		t.Errorf("unexpected simulcast.targets.updated payload: %v", payload)
	}
}

func TestUpdateSimulcastTargets_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedTwoTargets(t, env)
	desired := []models.SimulcastTarget{
		{Name: "A", URL: "rtmp://a", StreamKey: "k1"},
		{Name: "C", URL: "rtmp://c", StreamKey: "k3"},
	}

	first, err := env.engine.UpdateSimulcastTargets(context.Background(), seeded.ID, desired)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	deletes := env.fake.Calls("DeleteSimulcastTarget")
	creates := env.fake.Calls("CreateSimulcastTarget")
	events1 := env.pub.count(events.EventSimulcastTargetsUpdated)
	version := env.reload(t, seeded.ID).Version

	second, err := env.engine.UpdateSimulcastTargets(context.Background(), seeded.ID, desired)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	if env.fake.Calls("DeleteSimulcastTarget") != deletes || env.fake.Calls("CreateSimulcastTarget") != creates {
		t.Error("expected zero add/delete calls on second reconcile")
	}
	if env.pub.count(events.EventSimulcastTargetsUpdated) != events1 {
		t.Error("expected no event on second reconcile")
	}
	if env.reload(t, seeded.ID).Version != version {
		t.Error("expected no write on second reconcile")
	}
	if len(first.Targets) != len(second.Targets) {
		t.Fatalf("target sets differ: %+v vs %+v", first.Targets, second.Targets)
	}
	for i := range first.Targets {
		if first.Targets[i] != second.Targets[i] {
			t.Errorf("target %d differs: %+v vs %+v", i, first.Targets[i], second.Targets[i])
		}
	}
}

func TestUpdateSimulcastTargets_RenamePreservesStatus(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedTwoTargets(t, env)

	result, err := env.engine.UpdateSimulcastTargets(context.Background(), seeded.ID, []models.SimulcastTarget{
		{Name: "Renamed", URL: "rtmp://a", StreamKey: "k1"},
		{Name: "B", URL: "rtmp://b", StreamKey: "k2"},
	})
	if err != nil {
		t.Fatalf("UpdateSimulcastTargets: %v", err)
	}

	got := env.reload(t, seeded.ID)
	target := got.SimulcastTargets[0]
	if target.Name != "Renamed" || target.ID != "t1" {
		t.Errorf("expected renamed t1, got %+v", target)
	}
	if target.Status != models.TargetStatusConnected {
		t.Errorf("expected status connected preserved, got %q", target.Status)
	}
	if result.Added != 0 || result.Deleted != 0 {
		t.Errorf("rename must not add or delete, got %+v", result)
	}
}

func TestUpdateSimulcastTargets_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedTwoTargets(t, env)
	env.fake.FailTargets["rtmp://bad"] = errors.New("rejected")
	env.fake.FailTargetDeletes["t2"] = errors.New("stuck")

	result, err := env.engine.UpdateSimulcastTargets(context.Background(), seeded.ID, []models.SimulcastTarget{
		{URL: "rtmp://a", StreamKey: "k1"},
		{URL: "rtmp://bad", StreamKey: "x"},
		{URL: "rtmp://good", StreamKey: "y"},
	})
	if err != nil {
		t.Fatalf("partial failure must not be fatal: %v", err)
	}

	if len(result.Failures) != 2 {
		t.Fatalf("expected two failures, got %+v", result.Failures)
	}
	ops := map[string]bool{}
	for _, f := range result.Failures {
		ops[f.Op] = true
	}
	if !ops[TargetOpAdd] || !ops[TargetOpDelete] {
		t.Errorf("expected add and delete failures, got %+v", result.Failures)
	}
	if result.Added != 1 {
		t.Errorf("expected the good target to be added, got %d", result.Added)
	}

	got := env.reload(t, seeded.ID)
	if len(got.SimulcastTargets) != 3 {
		t.Fatalf("expected desired list persisted, got %+v", got.SimulcastTargets)
	}
	if got.SimulcastTargets[1].URL != "rtmp://bad" || got.SimulcastTargets[1].ID != "" {
		t.Errorf("expected failed add kept without id, got %+v", got.SimulcastTargets[1])
	}
	if got.SimulcastTargets[2].ID == "" {
		t.Errorf("expected successful add to carry remote id, got %+v", got.SimulcastTargets[2])
	}
	if got.TargetByID("t2") != -1 {
		t.Error("expected failed delete to be dropped locally")
	}
}

func TestUpdateSimulcastTargets_ListFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedTwoTargets(t, env)
	env.fake.Fail["ListSimulcastTargets"] = gateway.ErrUnavailable

	_, err := env.engine.UpdateSimulcastTargets(context.Background(), seeded.ID, nil)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if got := env.reload(t, seeded.ID); got.Version != seeded.Version {
		t.Error("expected no write when listing fails")
	}
}

// hookGateway runs beforeCreate ahead of each simulcast target creation.
type hookGateway struct {
	*gatewaytest.Fake
	beforeCreate func()
}

func (h *hookGateway) CreateSimulcastTarget(ctx context.Context, id string, spec gateway.TargetSpec) (*gateway.RemoteTarget, error) {
	if h.beforeCreate != nil {
		h.beforeCreate()
	}
	return h.Fake.CreateSimulcastTarget(ctx, id, spec)
}

func TestUpdateSimulcastTargets_KeepsConcurrentWebhookStatus(t *testing.T) {
	env := newTestEnv(t)
	seeded := seedTwoTargets(t, env)

	hooked := &hookGateway{Fake: env.fake}
	engine := NewEngine(env.store, hooked, env.pub, zerolog.Nop(), Options{Now: func() time.Time { return env.now }})
	hooked.beforeCreate = func() {
		env.engine.Ingest(context.Background(), TargetNotification{RemoteStreamID: seeded.RemoteID(), TargetID: "t1", Kind: TargetErrored})
	}

	_, err := engine.UpdateSimulcastTargets(context.Background(), seeded.ID, []models.SimulcastTarget{
		{Name: "A", URL: "rtmp://a", StreamKey: "k1"},
		{Name: "C", URL: "rtmp://c", StreamKey: "k3"},
	})
	if err != nil {
		t.Fatalf("UpdateSimulcastTargets: %v", err)
	}

	got := env.reload(t, seeded.ID)
	i := got.TargetByID("t1")
	if i < 0 {
		t.Fatalf("expected t1 kept, got %+v", got.SimulcastTargets)
	}
	if got.SimulcastTargets[i].Status != models.TargetStatusError {
		t.Errorf("expected webhook status to survive reconcile, got %q", got.SimulcastTargets[i].Status)
	}
}

func TestUpdateSimulcastTargets_Rejections(t *testing.T) {
	env := newTestEnv(t)
	deleted := env.seed(t, models.StreamStatusDeleted, nil)

	if _, err := env.engine.UpdateSimulcastTargets(context.Background(), deleted.ID, nil); !errors.Is(err, ErrStreamDeleted) {
		t.Errorf("expected ErrStreamDeleted, got %v", err)
	}

	unprovisioned := &models.LiveStream{Title: "bare"}
	if err := env.store.Create(context.Background(), unprovisioned); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.UpdateSimulcastTargets(context.Background(), unprovisioned.ID, nil); !errors.Is(err, ErrNotProvisioned) {
		t.Errorf("expected ErrNotProvisioned, got %v", err)
	}
}
