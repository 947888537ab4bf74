package presence

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) emitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStartAnnouncesOnlineStopAnnouncesOffline(t *testing.T) {
	db := testDB(t)
	em := &recordingEmitter{}
	tr := NewTracker(em, db, bus.New(), zap.NewNop())

	tr.Start()
	tr.Stop()

	got := em.emitted()
	if len(got) != 2 || got[0] != transport.EventGoOnline || got[1] != transport.EventGoOffline {
		t.Fatalf("emitted = %v, want [go_online go_offline]", got)
	}
}

func TestContactStatusUpdateIsPersistedAndRepublished(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertContact(&store.Contact{ID: "c1", DisplayName: "Alice", Presence: store.PresenceOffline}); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	tr := NewTracker(&recordingEmitter{}, db, b, zap.NewNop())
	out, unsub := b.Subscribe(bus.KindContactPresence, 4)
	defer unsub()

	tr.Start()
	defer tr.Stop()

	b.Emit(transport.WireKind(transport.EventContactStatusUpdate),
		&transport.ContactStatusPayload{ContactID: "c1", Status: store.PresenceOnline})

	select {
	case evt := <-out:
		p := evt.Payload.(*transport.ContactStatusPayload)
		if p.ContactID != "c1" || p.Status != store.PresenceOnline {
			t.Errorf("republished payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for contact.presence event")
	}

	c, err := db.GetContact("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Presence != store.PresenceOnline {
		t.Errorf("persisted presence = %q, want online", c.Presence)
	}
}

func TestUnknownPresenceValueIsDropped(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertContact(&store.Contact{ID: "c1", Presence: store.PresenceOffline}); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	tr := NewTracker(&recordingEmitter{}, db, b, zap.NewNop())
	out, unsub := b.Subscribe(bus.KindContactPresence, 4)
	defer unsub()

	tr.Start()
	defer tr.Stop()

	b.Emit(transport.WireKind(transport.EventContactStatusUpdate),
		&transport.ContactStatusPayload{ContactID: "c1", Status: "lurking"})

	select {
	case <-out:
		t.Fatal("unexpected republish of unknown presence value")
	case <-time.After(200 * time.Millisecond):
	}

	c, err := db.GetContact("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Presence != store.PresenceOffline {
		t.Errorf("presence = %q, want unchanged offline", c.Presence)
	}
}
