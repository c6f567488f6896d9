package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
)

func TestMessageRoundTrip(t *testing.T) {
	data, err := marshalMessage(events.EventStreamStatusUpdated, events.Payload{"id": "s1", "status": "active"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != events.EventStreamStatusUpdated || msg.NodeID != "node-a" || msg.MessageID == "" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if msg.Payload["status"] != "active" {
		t.Errorf("payload not preserved: %v", msg.Payload)
	}

	if _, err := unmarshalMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Error("expected error for envelope without event_type")
	}
}

func TestChannelNames(t *testing.T) {
	if got := redisChannel(events.EventStreamCreated); got != "ottlive:events:stream.created" {
		t.Errorf("unexpected redis channel %q", got)
	}
	if got := natsSubject(events.EventStreamCreated); got != "ottlive.events.stream.created" {
		t.Errorf("unexpected nats subject %q", got)
	}

	eventType, ok := eventTypeFromChannel(redisChannelPrefix, "ottlive:events:stream.key.reset")
	if !ok || eventType != events.EventStreamKeyReset {
		t.Errorf("expected stream.key.reset, got %q ok=%v", eventType, ok)
	}
	if _, ok := eventTypeFromChannel(redisChannelPrefix, "other:stream.created"); ok {
		t.Error("foreign channel must not match")
	}
}

func TestNATSBus_DeliverSuppressesOwnMessages(t *testing.T) {
	nb := &NATSBus{local: events.NewBus(), logger: zerolog.Nop(), nodeID: "self"}
	sub := nb.Subscribe(events.EventStreamStatusUpdated)

	own, _ := marshalMessage(events.EventStreamStatusUpdated, events.Payload{"id": "own"}, "self")
	nb.deliver(natsSubject(events.EventStreamStatusUpdated), own)

	remote, _ := marshalMessage(events.EventStreamStatusUpdated, events.Payload{"id": "remote"}, "other")
	nb.deliver(natsSubject(events.EventStreamStatusUpdated), remote)

	mismatched, _ := marshalMessage(events.EventStreamCreated, events.Payload{"id": "wrong"}, "other")
	nb.deliver(natsSubject(events.EventStreamStatusUpdated), mismatched)

	select {
	case got := <-sub:
		if got["id"] != "remote" {
			t.Fatalf("expected remote event, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected remote event delivered")
	}
	select {
	case got := <-sub:
		t.Fatalf("unexpected extra delivery: %v", got)
	default:
	}
}

func TestNATSBus_PublishWithoutConnectionIsLocal(t *testing.T) {
	nb := &NATSBus{local: events.NewBus(), logger: zerolog.Nop(), nodeID: "self"}
	sub := nb.Subscribe(events.EventStreamCreated)

	nb.Publish(events.EventStreamCreated, events.Payload{"id": "s1"})

	select {
	case got := <-sub:
		if got["id"] != "s1" {
			t.Errorf("unexpected payload %v", got)
		}
	default:
		t.Fatal("expected local delivery")
	}
	if err := nb.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRedisBus_DeliverSuppressesOwnMessages(t *testing.T) {
	rb := &RedisBus{local: events.NewBus(), logger: zerolog.Nop(), nodeID: "self"}
	sub := rb.Subscribe(events.EventSimulcastTargetUpdated)

	own, _ := marshalMessage(events.EventSimulcastTargetUpdated, events.Payload{"id": "own"}, "self")
	rb.deliver(redisChannel(events.EventSimulcastTargetUpdated), own)
	rb.deliver(redisChannel(events.EventSimulcastTargetUpdated), []byte("not json"))

	remote, _ := marshalMessage(events.EventSimulcastTargetUpdated, events.Payload{"id": "remote"}, "other")
	rb.deliver(redisChannel(events.EventSimulcastTargetUpdated), remote)

	if len(sub) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(sub))
	}
	if got := <-sub; got["id"] != "remote" {
		t.Errorf("expected remote event, got %v", got)
	}
}

func TestNodeIDUnique(t *testing.T) {
	if NodeID() == NodeID() {
		t.Error("expected distinct node ids")
	}
}
