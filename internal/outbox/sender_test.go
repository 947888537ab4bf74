package outbox

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

type fakeEmitter struct {
	mu       sync.Mutex
	err      error
	payloads []*transport.SendMessagePayload
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if p, ok := payload.(*transport.SendMessagePayload); ok {
		f.payloads = append(f.payloads, p)
	}
	return nil
}

func (f *fakeEmitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEmitter) sent() []*transport.SendMessagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*transport.SendMessagePayload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

type staticID string

func (s staticID) UserID() string { return string(s) }

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

func queue(t *testing.T, db *store.DB, clientID string) {
	t.Helper()
	err := db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:    clientID,
		ConversationID: "alice",
		ReceiverID:     "alice",
		Kind:           store.KindText,
		Body:           "queued " + clientID,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFlushEmitsQueuedEntries(t *testing.T) {
	db := testDB(t)
	em := &fakeEmitter{}
	s := NewSender(em, staticID("me"), db, bus.New(), zap.NewNop())

	queue(t, db, "m1")
	queue(t, db, "m2")
	s.Flush()

	sent := em.sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d payloads, want 2", len(sent))
	}
	if sent[0].ClientMsgID != "m1" || sent[0].SenderID != "me" || sent[0].ReceiverID != "alice" {
		t.Errorf("payload = %+v", sent[0])
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d after flush, want 0", len(pending))
	}
}

func TestFlushCarriesAttachment(t *testing.T) {
	db := testDB(t)
	em := &fakeEmitter{}
	s := NewSender(em, staticID("me"), db, bus.New(), zap.NewNop())

	err := db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:    "m1",
		ConversationID: "alice",
		ReceiverID:     "alice",
		Kind:           store.KindImage,
		AttachmentURL:  "https://cdn.example.com/a.png",
		AttachmentName: "a.png",
		AttachmentSize: 2048,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Flush()

	sent := em.sent()
	if len(sent) != 1 || sent[0].Attachment == nil {
		t.Fatalf("sent = %+v, want one payload with attachment", sent)
	}
	att := sent[0].Attachment
	if att.URL != "https://cdn.example.com/a.png" || att.Size != 2048 {
		t.Errorf("attachment = %+v", att)
	}
}

func TestDisconnectedTransportLeavesEntriesQueued(t *testing.T) {
	db := testDB(t)
	em := &fakeEmitter{err: transport.ErrNotConnected}
	s := NewSender(em, staticID("me"), db, bus.New(), zap.NewNop())

	queue(t, db, "m1")
	s.Flush()

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1 (entry kept for retry)", len(pending))
	}

	// Transport comes back; next flush drains it.
	em.setErr(nil)
	s.Flush()
	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d after reconnect flush, want 0", len(pending))
	}
}

func TestTerminalEmitErrorFailsMessage(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(&store.Message{
		ClientMsgID:    "m1",
		ConversationID: "alice",
		SenderID:       "me",
		ReceiverID:     "alice",
		Kind:           store.KindText,
		Body:           "doomed",
		Status:         store.StatusSent,
		SentAt:         100,
	}); err != nil {
		t.Fatal(err)
	}
	queue(t, db, "m1")

	b := bus.New()
	failed, unsub := b.Subscribe(bus.KindOutboxSendFailed, 4)
	defer unsub()

	em := &fakeEmitter{err: errors.New("payload too large")}
	s := NewSender(em, staticID("me"), db, b, zap.NewNop())
	s.Flush()

	select {
	case evt := <-failed:
		if evt.Payload.(string) != "m1" {
			t.Errorf("failed payload = %v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbox.send_failed")
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 (entry is terminally failed)", len(pending))
	}

	msgs, err := db.ListMessages("alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Status != store.StatusFailed {
		t.Errorf("message status = %q, want failed", msgs[0].Status)
	}
}

func TestBackgroundLoopDrainsQueue(t *testing.T) {
	db := testDB(t)
	em := &fakeEmitter{}
	s := NewSender(em, staticID("me"), db, bus.New(), zap.NewNop())
	s.Interval = 10 * time.Millisecond
	s.Start()
	t.Cleanup(s.Stop)

	queue(t, db, "m1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(em.sent()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queued entry never emitted by background loop")
}
