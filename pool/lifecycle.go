package pool

import (
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/common/stats"
)

// Register adds a worker in the inactive state. The caller activates it with
// SetActive once the agent is ready to pull work.
func (p *Pool) Register(name string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[name]; ok {
		return nil, ErrNameTaken
	}
	w := &Worker{name: name, pool: p, state: newInactiveState()}
	p.workers[name] = w
	p.connected++
	p.paused++
	p.stat.Gauge(stats.PoolConnectedWorkersGauge).Update(p.connected)
	p.stat.Gauge(stats.PoolPausedWorkersGauge).Update(p.paused)
	log.WithFields(log.Fields{"pool": p.name, "worker": name}).Info("Registered worker")

	if waiters, ok := p.reregister[name]; ok {
		for _, ch := range waiters {
			close(ch)
		}
		delete(p.reregister, name)
	}
	return w, nil
}

// SetActive moves the worker between running and inactive.
func (p *Pool) SetActive(w *Worker, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if active {
		return p.activate(w)
	}
	return p.deactivate(w)
}

func (p *Pool) activate(w *Worker) error {
	if w.shutdown {
		log.WithFields(log.Fields{"pool": p.name, "worker": w.name}).Info("Ignoring activation of shut-down worker")
		return nil
	}
	switch st := w.state.(type) {
	case *runningState:
		return nil
	case *finishedState:
		return ErrFinished
	case *inactiveState:
		w.state = newRunningState()
		p.paused--
		p.stat.Gauge(stats.PoolPausedWorkersGauge).Update(p.paused)
		close(st.ready)
		return nil
	}
	return nil
}

// deactivate parks the worker. Items on its queue are either pushed to the
// rear of the backlog in their original relative order, or, when the pool
// has ready workers instead of a backlog, re-placed one by one.
func (p *Pool) deactivate(w *Worker) error {
	switch st := w.state.(type) {
	case *finishedState:
		return ErrFinished
	case *inactiveState:
		return nil
	case *runningState:
		w.state = newInactiveState()
		p.paused++
		p.stat.Gauge(stats.PoolPausedWorkersGauge).Update(p.paused)

		if st.queue.entries.Len() > 0 {
			log.WithFields(log.Fields{
				"pool":   p.name,
				"worker": w.name,
				"items":  st.queue.entries.Len(),
			}).Info("Re-parking items from deactivated worker")
			switch m := p.main.(type) {
			case *mainBacklog:
				// Newest first so the oldest lands nearest the consuming
				// end, preserving relative order.
				for el := st.queue.entries.Front(); el != nil; el = st.queue.entries.Front() {
					e := el.Value.(*queueEntry)
					st.queue.entries.Remove(el)
					st.queue.workload -= int64(e.cost)
					e.ticket.detach = nil
					m.b.pushBack(e.ticket)
				}
			case *mainReady:
				// Oldest first so re-placement keeps submission order.
				for el := st.queue.entries.Back(); el != nil; el = st.queue.entries.Back() {
					e := el.Value.(*queueEntry)
					st.queue.entries.Remove(el)
					st.queue.workload -= int64(e.cost)
					e.ticket.detach = nil
					p.add(e.ticket)
				}
			}
		}
		wake(st.cond)
		return nil
	}
	return nil
}

// Shutdown deactivates the worker and forbids reactivation. The worker
// remains registered until Release.
func (p *Pool) Shutdown(w *Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.shutdown = true
	return p.deactivate(w)
}

// Release removes the worker from the pool. Any parked Pop returns
// ErrFinished. Releasing an already-released worker is an error.
func (p *Pool) Release(w *Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.deactivate(w); err != nil {
		return err
	}
	st := w.state.(*inactiveState)
	w.state = &finishedState{}
	delete(p.workers, w.name)
	p.connected--
	p.paused--
	p.stat.Gauge(stats.PoolConnectedWorkersGauge).Update(p.connected)
	p.stat.Gauge(stats.PoolPausedWorkersGauge).Update(p.paused)
	close(st.ready)
	log.WithFields(log.Fields{"pool": p.name, "worker": w.name}).Info("Released worker")
	return nil
}

// GetWorker looks up a registered worker by name.
func (p *Pool) GetWorker(name string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[name]
	if !ok {
		return nil, ErrUnknownWorker
	}
	return w, nil
}

// WaitReregistration blocks until a worker registers under the given name,
// or the timeout elapses. Used by the admin self-update flow: the agent is
// told to update, releases, and is expected to come back under the same
// name.
func (p *Pool) WaitReregistration(name string, timeout time.Duration) error {
	p.mu.Lock()
	ch := make(chan struct{})
	p.reregister[name] = append(p.reregister[name], ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		p.mu.Lock()
		waiters := p.reregister[name]
		for i, c := range waiters {
			if c == ch {
				p.reregister[name] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(p.reregister[name]) == 0 {
			delete(p.reregister, name)
		}
		p.mu.Unlock()
		// The registration may have raced the timeout.
		select {
		case <-ch:
			return nil
		default:
		}
		return ErrUpdateTimeout
	}
}

// WorkerInfo is a point-in-time view of one worker for the admin surface.
type WorkerInfo struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Workload int64  `json:"workload"`
	Queued   int    `json:"queued"`
	Shutdown bool   `json:"shutdown"`
}

func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var infos []WorkerInfo
	for _, w := range p.workers {
		info := WorkerInfo{Name: w.name, Shutdown: w.shutdown}
		switch st := w.state.(type) {
		case *inactiveState:
			info.State = "inactive"
		case *runningState:
			info.State = "running"
			info.Workload = st.queue.workload
			info.Queued = st.queue.entries.Len()
		case *finishedState:
			info.State = "finished"
		}
		infos = append(infos, info)
	}
	return infos
}

// Show summarizes the pool for the admin surface.
type ShowInfo struct {
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Workers     int    `json:"workers"`
	Ready       int64  `json:"ready"`
	BacklogHigh int    `json:"backlogHigh"`
	BacklogLow  int    `json:"backlogLow"`
}

func (p *Pool) Show() ShowInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := ShowInfo{
		Name:    p.name,
		Active:  p.gate.Active(),
		Workers: len(p.workers),
		Ready:   p.ready,
	}
	if m, ok := p.main.(*mainBacklog); ok {
		info.BacklogHigh = m.b.high.Len()
		info.BacklogLow = m.b.low.Len()
	}
	return info
}

// DumpString renders the full pool state for debugging.
func (p *Pool) DumpString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	type workerDump struct {
		Info    WorkerInfo
		Tickets []string
	}
	dump := struct {
		Name    string
		Active  bool
		Main    string
		Backlog []string
		Workers []workerDump
	}{Name: p.name, Active: p.gate.Active()}
	switch m := p.main.(type) {
	case *mainBacklog:
		dump.Main = "backlog"
		for el := m.b.high.Back(); el != nil; el = el.Prev() {
			dump.Backlog = append(dump.Backlog, "high:"+el.Value.(*Ticket).item.String())
		}
		for el := m.b.low.Back(); el != nil; el = el.Prev() {
			dump.Backlog = append(dump.Backlog, "low:"+el.Value.(*Ticket).item.String())
		}
	case *mainReady:
		dump.Main = "ready"
	}
	for _, w := range p.workers {
		wd := workerDump{}
		wd.Info = WorkerInfo{Name: w.name, Shutdown: w.shutdown}
		if st, ok := w.state.(*runningState); ok {
			wd.Info.State = "running"
			wd.Info.Workload = st.queue.workload
			for el := st.queue.entries.Back(); el != nil; el = el.Prev() {
				wd.Tickets = append(wd.Tickets, el.Value.(*queueEntry).ticket.item.String())
			}
		}
		dump.Workers = append(dump.Workers, wd)
	}
	return spew.Sdump(dump)
}
