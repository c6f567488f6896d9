package models

import (
	"testing"
	"time"
)

func TestLiveStreamClone_DeepCopies(t *testing.T) {
	id := "rs-1"
	key := "sk-1"
	at := time.Now()
	orig := &LiveStream{
		RemoteStreamID:   &id,
		StreamKey:        &key,
		DisconnectedAt:   &at,
		SimulcastTargets: []SimulcastTarget{{ID: "t1", URL: "rtmp://a"}},
		PlaybackIDs:      []PlaybackID{{ID: "pb-1"}},
	}

	clone := orig.Clone()
	*clone.RemoteStreamID = "changed"
	*clone.StreamKey = "changed"
	*clone.DisconnectedAt = at.Add(time.Hour)
	clone.SimulcastTargets[0].URL = "rtmp://b"
	clone.PlaybackIDs[0].ID = "changed"

	if *orig.RemoteStreamID != "rs-1" || *orig.StreamKey != "sk-1" {
		t.Error("clone aliases pointer fields")
	}
	if !orig.DisconnectedAt.Equal(at) {
		t.Error("clone aliases disconnected_at")
	}
	if orig.SimulcastTargets[0].URL != "rtmp://a" || orig.PlaybackIDs[0].ID != "pb-1" {
		t.Error("clone aliases slices")
	}

	var nilStream *LiveStream
	if nilStream.Clone() != nil {
		t.Error("expected nil clone of nil stream")
	}
}

func TestLiveStreamDisconnectedFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(-90 * time.Second)

	s := &LiveStream{Status: StreamStatusDisconnected, DisconnectedAt: &at, ReconnectWindowSeconds: 60}
	elapsed, ok := s.DisconnectedFor(now)
	if !ok || elapsed != 90*time.Second {
		t.Errorf("expected 90s, got %v ok=%v", elapsed, ok)
	}
	if s.ReconnectWindow() != time.Minute {
		t.Errorf("expected 1m window, got %v", s.ReconnectWindow())
	}

	s.Status = StreamStatusActive
	if _, ok := s.DisconnectedFor(now); ok {
		t.Error("expected no duration for active stream")
	}
}

func TestLiveStreamTargetByID(t *testing.T) {
	s := &LiveStream{SimulcastTargets: []SimulcastTarget{{URL: "rtmp://pending"}, {ID: "t2"}}}
	if i := s.TargetByID("t2"); i != 1 {
		t.Errorf("expected index 1, got %d", i)
	}
	if i := s.TargetByID(""); i != -1 {
		t.Errorf("empty id must never match, got %d", i)
	}
	if i := s.TargetByID("missing"); i != -1 {
		t.Errorf("expected -1, got %d", i)
	}
}

func TestStreamStatusValid(t *testing.T) {
	for _, s := range []StreamStatus{StreamStatusIdle, StreamStatusActive, StreamStatusDisconnected, StreamStatusDisabled, StreamStatusDeleted} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if StreamStatusNone.Valid() || StreamStatus("enabled").Valid() {
		t.Error("unexpected valid status")
	}
}
