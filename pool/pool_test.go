package pool

import (
	"context"
	"testing"
	"time"

	"github.com/kilnproject/kiln/common/stats"
)

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 2*time.Second)
}

type testItem struct {
	name string
	hint string
	cost Cost
}

func (i *testItem) CacheHint() string  { return i.hint }
func (i *testItem) CostEstimate() Cost { return i.cost }
func (i *testItem) String() string     { return i.name }

func item(name, hint string) *testItem {
	return &testItem{name: name, hint: hint, cost: Cost{Cached: 1, NonCached: 4}}
}

type popResult struct {
	ticket *Ticket
	err    error
}

func popAsync(p *Pool, w *Worker) chan popResult {
	ch := make(chan popResult, 1)
	go func() {
		t, err := p.Pop(w)
		ch <- popResult{t, err}
	}()
	return ch
}

func waitPop(t *testing.T, ch chan popResult, want string) *Ticket {
	t.Helper()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("pop failed: %v", r.err)
		}
		if got := r.ticket.Item().String(); got != want {
			t.Fatalf("pop returned %q, want %q", got, want)
		}
		return r.ticket
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pop of %q", want)
		return nil
	}
}

func waitPopFinished(t *testing.T, ch chan popResult) {
	t.Helper()
	select {
	case r := <-ch:
		if r.err != ErrFinished {
			t.Fatalf("expected ErrFinished, got ticket=%v err=%v", r.ticket, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for finished pop")
	}
}

func assertBlocked(t *testing.T, ch chan popResult) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("expected pop to stay blocked, got ticket=%v err=%v", r.ticket, r.err)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitParked polls until n workers are parked in the ready list.
func waitParked(t *testing.T, p *Pool, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		ready := p.ready
		p.mu.Unlock()
		if ready == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never reached %d parked workers", n)
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	return New("default", NewInMemoryCacheDAO(), stats.NilStatsReceiver())
}

func registerActive(t *testing.T, p *Pool, name string) *Worker {
	t.Helper()
	w, err := p.Register(name)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if err := p.SetActive(w, true); err != nil {
		t.Fatalf("activate %s: %v", name, err)
	}
	return w
}

// workerQueueNames returns item names on the worker's local queue, oldest
// (next consumed) first.
func workerQueueNames(p *Pool, w *Worker) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := w.state.(*runningState)
	if !ok {
		return nil
	}
	var names []string
	for el := rs.queue.entries.Back(); el != nil; el = el.Prev() {
		names = append(names, el.Value.(*queueEntry).ticket.Item().String())
	}
	return names
}

func workerWorkload(p *Pool, w *Worker) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rs, ok := w.state.(*runningState); ok {
		return rs.queue.workload
	}
	return 0
}

func TestBasicFairness(t *testing.T) {
	p := newTestPool(t)
	w1 := registerActive(t, p, "worker-1")
	w2 := registerActive(t, p, "worker-2")

	ch1 := popAsync(p, w1)
	waitParked(t, p, 1)
	ch2 := popAsync(p, w2)
	waitParked(t, p, 2)

	p.Submit(false, item("J1", ""))
	waitPop(t, ch1, "J1")
	p.Submit(false, item("J2", ""))
	waitPop(t, ch2, "J2")
	p.Submit(false, item("J3", ""))

	if err := p.Release(w2); err != nil {
		t.Fatalf("release: %v", err)
	}
	waitPop(t, popAsync(p, w1), "J3")
}

func TestLocalityPreferenceWithCap(t *testing.T) {
	p := newTestPool(t)
	w1 := registerActive(t, p, "w1")
	w2 := registerActive(t, p, "w2")

	ch1 := popAsync(p, w1)
	waitParked(t, p, 1)
	ch2 := popAsync(p, w2)
	waitParked(t, p, 2)

	p.Submit(false, item("J1", "a"))
	waitPop(t, ch1, "J1")
	p.Submit(false, item("J2", "b"))
	waitPop(t, ch2, "J2")

	// Both workers busy now; these park in the backlog.
	p.Submit(false, item("J3", "a"))
	p.Submit(false, item("J4", "a"))
	p.Submit(false, item("J5", "c"))

	// w2's next pop steers J3 and J4 onto cache-warm w1 and takes J5 itself.
	waitPop(t, popAsync(p, w2), "J5")

	if got := workerQueueNames(p, w1); len(got) != 2 || got[0] != "J3" || got[1] != "J4" {
		t.Fatalf("w1 queue = %v, want [J3 J4]", got)
	}
	if got := workerWorkload(p, w1); got != 2 {
		t.Fatalf("w1 workload = %d, want 2 (two cached-cost entries)", got)
	}
}

func TestWorkerDepartureReassigns(t *testing.T) {
	p := newTestPool(t)
	w1 := registerActive(t, p, "w1")
	w2 := registerActive(t, p, "w2")

	ch1 := popAsync(p, w1)
	waitParked(t, p, 1)
	ch2 := popAsync(p, w2)
	waitParked(t, p, 2)

	p.Submit(false, item("J1", "a"))
	waitPop(t, ch1, "J1")
	p.Submit(false, item("J2", "b"))
	waitPop(t, ch2, "J2")
	p.Submit(false, item("J3", "a"))
	p.Submit(false, item("J4", "a"))
	p.Submit(false, item("J5", "c"))
	waitPop(t, popAsync(p, w2), "J5")

	// J3 and J4 sit on w1. Releasing w1 re-parks them in order.
	if err := p.Release(w1); err != nil {
		t.Fatalf("release: %v", err)
	}
	waitPop(t, popAsync(p, w2), "J3")
	waitPop(t, popAsync(p, w2), "J4")
}

func TestUrgencyOrdering(t *testing.T) {
	p := newTestPool(t)

	p.Submit(false, item("J1", "a"))
	p.Submit(true, item("J2", "a"))
	p.Submit(true, item("J3", "a"))
	p.Submit(false, item("J4", "b"))

	w1 := registerActive(t, p, "w1")
	waitPop(t, popAsync(p, w1), "J2")

	w2 := registerActive(t, p, "w2")
	// J3 and J1 get steered onto cache-warm w1 on the way; J4 is the first
	// item w2 accepts itself.
	waitPop(t, popAsync(p, w2), "J4")

	if got := workerQueueNames(p, w1); len(got) != 2 || got[0] != "J3" || got[1] != "J1" {
		t.Fatalf("w1 queue = %v, want [J3 J1]", got)
	}

	if err := p.Release(w1); err != nil {
		t.Fatalf("release: %v", err)
	}
	p.Submit(true, item("J5", "b"))

	waitPop(t, popAsync(p, w2), "J3")
	waitPop(t, popAsync(p, w2), "J5")
	waitPop(t, popAsync(p, w2), "J1")
}

func TestCachePersistsAcrossPoolInstances(t *testing.T) {
	dao := NewInMemoryCacheDAO()
	p1 := New("default", dao, stats.NilStatsReceiver())
	w1 := registerActive(t, p1, "w1")
	ch1 := popAsync(p1, w1)
	waitParked(t, p1, 1)
	p1.Submit(false, item("J", "a"))
	waitPop(t, ch1, "J")
	if err := p1.Release(w1); err != nil {
		t.Fatalf("release: %v", err)
	}

	// New pool instance over the same DAO: w2 registers first and has been
	// waiting longer, but the hint still routes to w1.
	p2 := New("default", dao, stats.NilStatsReceiver())
	w2 := registerActive(t, p2, "w2")
	ch2 := popAsync(p2, w2)
	waitParked(t, p2, 1)
	w1b := registerActive(t, p2, "w1")
	ch1b := popAsync(p2, w1b)
	waitParked(t, p2, 2)

	p2.Submit(false, item("J'", "a"))
	waitPop(t, ch1b, "J'")
	assertBlocked(t, ch2)
}

func TestGlobalPause(t *testing.T) {
	p := newTestPool(t)
	p.Gate().Set(false)

	w1 := registerActive(t, p, "w1")
	ch := popAsync(p, w1)

	p.Submit(false, item("J1", ""))
	p.Submit(true, item("J2", ""))
	p.Submit(false, item("J3", ""))
	assertBlocked(t, ch)

	show := p.Show()
	if show.BacklogHigh != 1 || show.BacklogLow != 2 {
		t.Fatalf("backlog = %d high / %d low, want 1/2", show.BacklogHigh, show.BacklogLow)
	}

	p.Gate().Set(true)
	waitPop(t, ch, "J2")
	waitPop(t, popAsync(p, w1), "J1")

	p.Gate().Set(false)
	ch = popAsync(p, w1)
	assertBlocked(t, ch)
	p.Gate().Set(true)
	waitPop(t, ch, "J3")
}

func TestDeactivateReactivateRoundTrip(t *testing.T) {
	p := newTestPool(t)
	w1 := registerActive(t, p, "w1")
	w2 := registerActive(t, p, "w2")

	ch1 := popAsync(p, w1)
	waitParked(t, p, 1)
	ch2 := popAsync(p, w2)
	waitParked(t, p, 2)
	p.Submit(false, item("J1", "a"))
	waitPop(t, ch1, "J1")
	p.Submit(false, item("J2", "b"))
	waitPop(t, ch2, "J2")
	p.Submit(false, item("J3", "a"))
	p.Submit(false, item("J4", "a"))
	p.Submit(false, item("J5", "c"))
	waitPop(t, popAsync(p, w2), "J5")

	if err := p.SetActive(w1, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	show := p.Show()
	if show.BacklogLow != 2 {
		t.Fatalf("backlog low = %d after deactivate, want 2", show.BacklogLow)
	}
	if err := p.SetActive(w1, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if got := workerQueueNames(p, w1); len(got) != 0 {
		t.Fatalf("w1 queue = %v after round trip, want empty", got)
	}
	// The re-parked items kept their order and drain oldest-first. w1 is
	// cache-warm for hint a, so its own pops take them (steered to self).
	waitPop(t, popAsync(p, w1), "J3")
	waitPop(t, popAsync(p, w1), "J4")
}

func TestRegisterReleaseRoundTrip(t *testing.T) {
	p := newTestPool(t)
	w, err := p.Register("w1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Release(w); err != nil {
		t.Fatalf("release: %v", err)
	}
	show := p.Show()
	if show.Workers != 0 {
		t.Fatalf("workers = %d after register/release, want 0", show.Workers)
	}
	p.mu.Lock()
	connected, paused := p.connected, p.paused
	p.mu.Unlock()
	if connected != 0 || paused != 0 {
		t.Fatalf("gauges connected=%d paused=%d after register/release, want 0/0", connected, paused)
	}
}

func TestRegisterNameTaken(t *testing.T) {
	p := newTestPool(t)
	registerActive(t, p, "w1")
	if _, err := p.Register("w1"); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestReleaseUnblocksParkedPop(t *testing.T) {
	p := newTestPool(t)
	w := registerActive(t, p, "w1")
	ch := popAsync(p, w)
	waitParked(t, p, 1)
	if err := p.Release(w); err != nil {
		t.Fatalf("release: %v", err)
	}
	waitPopFinished(t, ch)
	if err := p.Release(w); err != ErrFinished {
		t.Fatalf("second release: got %v, want ErrFinished", err)
	}
}

func TestShutdownForbidsReactivation(t *testing.T) {
	p := newTestPool(t)
	w := registerActive(t, p, "w1")
	if err := p.Shutdown(w); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := p.SetActive(w, true); err != nil {
		t.Fatalf("activate after shutdown should be ignored, got %v", err)
	}
	p.mu.Lock()
	_, running := w.state.(*runningState)
	p.mu.Unlock()
	if running {
		t.Fatalf("shut-down worker must not return to running")
	}
}

func TestCancel(t *testing.T) {
	p := newTestPool(t)
	tk := p.Submit(false, item("J1", ""))
	if err := tk.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := tk.Cancel(); err != ErrNotQueued {
		t.Fatalf("second cancel: got %v, want ErrNotQueued", err)
	}

	// The cancelled ticket is gone; a worker popping now parks.
	w := registerActive(t, p, "w1")
	ch := popAsync(p, w)
	assertBlocked(t, ch)
	p.Submit(false, item("J2", ""))
	waitPop(t, ch, "J2")
}

func TestCancelAfterAcceptFails(t *testing.T) {
	p := newTestPool(t)
	w := registerActive(t, p, "w1")
	ch := popAsync(p, w)
	waitParked(t, p, 1)
	tk := p.Submit(false, item("J1", ""))
	waitPop(t, ch, "J1")
	if !tk.Accepted() {
		t.Fatalf("ticket should report accepted")
	}
	if err := tk.Cancel(); err != ErrNotQueued {
		t.Fatalf("cancel after accept: got %v, want ErrNotQueued", err)
	}
}

func TestCancelQueuedOnWorker(t *testing.T) {
	p := newTestPool(t)
	w1 := registerActive(t, p, "w1")
	w2 := registerActive(t, p, "w2")
	ch1 := popAsync(p, w1)
	waitParked(t, p, 1)
	ch2 := popAsync(p, w2)
	waitParked(t, p, 2)
	p.Submit(false, item("J1", "a"))
	waitPop(t, ch1, "J1")
	p.Submit(false, item("J2", "b"))
	waitPop(t, ch2, "J2")
	p.Submit(false, item("J3", "a"))
	p.Submit(false, item("J4", "c"))
	waitPop(t, popAsync(p, w2), "J4")

	// J3 was steered onto w1's queue; cancelling detaches it there.
	if got := workerQueueNames(p, w1); len(got) != 1 || got[0] != "J3" {
		t.Fatalf("w1 queue = %v, want [J3]", got)
	}
	p.mu.Lock()
	var j3 *Ticket
	if rs, ok := w1.state.(*runningState); ok {
		j3 = rs.queue.entries.Back().Value.(*queueEntry).ticket
	}
	p.mu.Unlock()
	if err := j3.Cancel(); err != nil {
		t.Fatalf("cancel queued-on-worker: %v", err)
	}
	if got := workerQueueNames(p, w1); len(got) != 0 {
		t.Fatalf("w1 queue = %v after cancel, want empty", got)
	}
	if got := workerWorkload(p, w1); got != 0 {
		t.Fatalf("w1 workload = %d after cancel, want 0", got)
	}
}

func TestWaitReregistration(t *testing.T) {
	p := newTestPool(t)
	w := registerActive(t, p, "w1")

	done := make(chan error, 1)
	go func() {
		done <- p.WaitReregistration("w1", 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Release(w); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := p.Register("w1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait reregistration: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reregistration signal")
	}

	if err := p.WaitReregistration("w1", 20*time.Millisecond); err != ErrUpdateTimeout {
		t.Fatalf("expected ErrUpdateTimeout, got %v", err)
	}
}

func TestAwaitJob(t *testing.T) {
	p := newTestPool(t)
	w := registerActive(t, p, "w1")
	ch := popAsync(p, w)
	waitParked(t, p, 1)
	tk := p.Submit(false, item("J1", ""))
	got := waitPop(t, ch, "J1")
	got.ResolveJob("job-capability")

	ctx, cancel := testContext(t)
	defer cancel()
	h, err := tk.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if h != "job-capability" {
		t.Fatalf("await returned %v", h)
	}
}
