// Package storetest provides a conformance suite for sessionstore.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-sse-server/sessionstore"
)

// StoreFactory creates a fresh, empty Store for one subtest.
type StoreFactory func(t *testing.T) sessionstore.Store

// Run executes the complete Store suite against the provided factory.
func Run(t *testing.T, factory StoreFactory) {
	t.Run("Lifecycle_CreateStartsInitializing", func(t *testing.T) { testCreate(t, factory) })
	t.Run("Lifecycle_RecreateOverwrites", func(t *testing.T) { testRecreate(t, factory) })
	t.Run("Lifecycle_SetStatus", func(t *testing.T) { testSetStatus(t, factory) })
	t.Run("Lifecycle_ClosedDeletes", func(t *testing.T) { testClosedDeletes(t, factory) })
	t.Run("Lifecycle_DeleteRemovesEverything", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Lifecycle_EmptyIDRejected", func(t *testing.T) { testEmptyID(t, factory) })

	t.Run("Queue_FIFO", func(t *testing.T) { testFIFO(t, factory) })
	t.Run("Queue_DequeueEmpty", func(t *testing.T) { testDequeueEmpty(t, factory) })
	t.Run("Queue_EnqueueAbsentIsNoop", func(t *testing.T) { testEnqueueAbsent(t, factory) })
	t.Run("Queue_IsolationBetweenSessions", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("Queue_ConcurrentProducerConsumer", func(t *testing.T) { testConcurrent(t, factory) })

	t.Run("Liveness_TimeSinceLastMessage", func(t *testing.T) { testTimeSince(t, factory) })

	t.Run("Watch_SignalledOnEnqueue", func(t *testing.T) { testWatchEnqueue(t, factory) })
	t.Run("Watch_SignalledOnDelete", func(t *testing.T) { testWatchDelete(t, factory) })
	t.Run("Watch_StopIsIdempotent", func(t *testing.T) { testWatchStop(t, factory) })
}

func newCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustCreate(t *testing.T, ctx context.Context, s sessionstore.Store, id string) {
	t.Helper()
	if err := s.Create(ctx, id); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func mustEnqueue(t *testing.T, ctx context.Context, s sessionstore.Store, id string, msg string) {
	t.Helper()
	if err := s.Enqueue(ctx, id, []byte(msg)); err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func mustDequeue(t *testing.T, ctx context.Context, s sessionstore.Store, id string) (string, bool) {
	t.Helper()
	msg, ok, err := s.DequeueFirst(ctx, id)
	if err != nil {
		t.Fatalf("dequeue %s: %v", id, err)
	}
	return string(msg), ok
}

func testCreate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	before := time.Now().Add(-time.Second)
	mustCreate(t, ctx, s, "sess-create")

	sess, err := s.Get(ctx, "sess-create")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != sessionstore.StatusInitializing {
		t.Fatalf("status: want %q got %q", sessionstore.StatusInitializing, sess.Status)
	}
	if sess.QueueLen != 0 {
		t.Fatalf("queue length: want 0 got %d", sess.QueueLen)
	}
	if sess.CreatedAt.Before(before) {
		t.Fatalf("created_at %v is before test start %v", sess.CreatedAt, before)
	}
	if !sess.LastMessageAt.Equal(sess.CreatedAt) {
		t.Fatalf("last_message_at %v should equal created_at %v", sess.LastMessageAt, sess.CreatedAt)
	}
}

func testRecreate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-re")
	mustEnqueue(t, ctx, s, "sess-re", `{"n":1}`)
	if err := s.SetStatus(ctx, "sess-re", sessionstore.StatusActive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	mustCreate(t, ctx, s, "sess-re")
	sess, err := s.Get(ctx, "sess-re")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != sessionstore.StatusInitializing || sess.QueueLen != 0 {
		t.Fatalf("expected fresh session after re-create, got %+v", sess)
	}
	if _, ok := mustDequeue(t, ctx, s, "sess-re"); ok {
		t.Fatalf("expected empty queue after re-create")
	}
}

func testSetStatus(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	if err := s.SetStatus(ctx, "missing", sessionstore.StatusActive); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for absent session, got %v", err)
	}

	mustCreate(t, ctx, s, "sess-status")
	if err := s.SetStatus(ctx, "sess-status", sessionstore.Status("bogus")); !errors.Is(err, sessionstore.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := s.SetStatus(ctx, "sess-status", sessionstore.StatusActive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	sess, err := s.Get(ctx, "sess-status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != sessionstore.StatusActive {
		t.Fatalf("status: want active got %q", sess.Status)
	}
}

func testClosedDeletes(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-closed")
	mustEnqueue(t, ctx, s, "sess-closed", `{}`)
	if err := s.SetStatus(ctx, "sess-closed", sessionstore.StatusClosed); err != nil {
		t.Fatalf("set closed: %v", err)
	}
	if _, err := s.Get(ctx, "sess-closed"); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("expected closed session to be gone, got %v", err)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-del")
	mustEnqueue(t, ctx, s, "sess-del", `{"a":1}`)
	if err := s.Delete(ctx, "sess-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "sess-del"); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("get after delete: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := s.TimeSinceLastMessage(ctx, "sess-del"); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("time since after delete: expected ErrSessionNotFound, got %v", err)
	}
	if _, ok := mustDequeue(t, ctx, s, "sess-del"); ok {
		t.Fatalf("expected no queued messages after delete")
	}
	if err := s.Delete(ctx, "sess-del"); err != nil {
		t.Fatalf("second delete should succeed, got %v", err)
	}
}

func testEmptyID(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	if err := s.Create(ctx, ""); !errors.Is(err, sessionstore.ErrEmptySessionID) {
		t.Fatalf("create: expected ErrEmptySessionID, got %v", err)
	}
	if err := s.Enqueue(ctx, "", []byte(`{}`)); !errors.Is(err, sessionstore.ErrEmptySessionID) {
		t.Fatalf("enqueue: expected ErrEmptySessionID, got %v", err)
	}
}

func testFIFO(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-fifo")
	for i := 0; i < 5; i++ {
		mustEnqueue(t, ctx, s, "sess-fifo", fmt.Sprintf(`{"n":%d}`, i))
	}
	sess, err := s.Get(ctx, "sess-fifo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.QueueLen != 5 {
		t.Fatalf("queue length: want 5 got %d", sess.QueueLen)
	}
	for i := 0; i < 5; i++ {
		got, ok := mustDequeue(t, ctx, s, "sess-fifo")
		if !ok {
			t.Fatalf("dequeue %d: queue unexpectedly empty", i)
		}
		if want := fmt.Sprintf(`{"n":%d}`, i); got != want {
			t.Fatalf("dequeue %d: want %s got %s", i, want, got)
		}
	}
	if _, ok := mustDequeue(t, ctx, s, "sess-fifo"); ok {
		t.Fatalf("expected queue to be drained")
	}
}

func testDequeueEmpty(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	if _, ok := mustDequeue(t, ctx, s, "never-created"); ok {
		t.Fatalf("expected ok=false for absent session")
	}
	mustCreate(t, ctx, s, "sess-empty")
	if msg, ok := mustDequeue(t, ctx, s, "sess-empty"); ok || msg != "" {
		t.Fatalf("expected empty dequeue, got ok=%v msg=%q", ok, msg)
	}
}

func testEnqueueAbsent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	if err := s.Enqueue(ctx, "ghost", []byte(`{}`)); err != nil {
		t.Fatalf("enqueue on absent session should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, "ghost"); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("enqueue must not create the session, got %v", err)
	}
}

func testIsolation(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-a")
	mustCreate(t, ctx, s, "sess-b")
	mustEnqueue(t, ctx, s, "sess-a", `"a"`)
	mustEnqueue(t, ctx, s, "sess-b", `"b"`)

	if got, _ := mustDequeue(t, ctx, s, "sess-b"); got != `"b"` {
		t.Fatalf("sess-b: want \"b\" got %s", got)
	}
	if _, ok := mustDequeue(t, ctx, s, "sess-b"); ok {
		t.Fatalf("sess-b should be empty")
	}
	if err := s.Delete(ctx, "sess-b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := mustDequeue(t, ctx, s, "sess-a"); got != `"a"` {
		t.Fatalf("sess-a: want \"a\" got %s", got)
	}
}

func testConcurrent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)
	const n = 50

	mustCreate(t, ctx, s, "sess-conc")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := s.Enqueue(ctx, "sess-conc", []byte(fmt.Sprintf("%d", i))); err != nil {
				t.Errorf("enqueue %d: %v", i, err)
				return
			}
		}
	}()

	var got []string
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		msg, ok, err := s.DequeueFirst(ctx, "sess-conc")
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		got = append(got, string(msg))
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("want %d messages got %d", n, len(got))
	}
	for i, m := range got {
		if m != fmt.Sprintf("%d", i) {
			t.Fatalf("position %d: want %d got %s", i, i, m)
		}
	}
}

func testTimeSince(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	if _, err := s.TimeSinceLastMessage(ctx, "absent"); !errors.Is(err, sessionstore.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	mustCreate(t, ctx, s, "sess-live")
	mustEnqueue(t, ctx, s, "sess-live", `{}`)
	d, err := s.TimeSinceLastMessage(ctx, "sess-live")
	if err != nil {
		t.Fatalf("time since: %v", err)
	}
	if d < 0 || d > 5*time.Second {
		t.Fatalf("unexpected elapsed time %v", d)
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s signal", what)
	}
}

func testWatchEnqueue(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-watch")
	ch, stop, err := s.Watch(ctx, "sess-watch")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	mustEnqueue(t, ctx, s, "sess-watch", `{"x":1}`)
	waitSignal(t, ch, "enqueue")

	// Signals coalesce; after several enqueues at least one signal is pending.
	mustEnqueue(t, ctx, s, "sess-watch", `{"x":2}`)
	mustEnqueue(t, ctx, s, "sess-watch", `{"x":3}`)
	waitSignal(t, ch, "coalesced enqueue")

	for _, want := range []string{`{"x":1}`, `{"x":2}`, `{"x":3}`} {
		if got, _ := mustDequeue(t, ctx, s, "sess-watch"); got != want {
			t.Fatalf("want %s got %s", want, got)
		}
	}
}

func testWatchDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-watch-del")
	ch, stop, err := s.Watch(ctx, "sess-watch-del")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := s.Delete(ctx, "sess-watch-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitSignal(t, ch, "delete")
}

func testWatchStop(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := newCtx(t)

	mustCreate(t, ctx, s, "sess-watch-stop")
	_, stop, err := s.Watch(ctx, "sess-watch-stop")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	stop()
	stop()
	mustEnqueue(t, ctx, s, "sess-watch-stop", `{}`)
}
