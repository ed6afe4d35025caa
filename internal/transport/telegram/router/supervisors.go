package router

import (
	"sort"
	"sync"

	rtsup "linkrotor/internal/runtime/supervisor"
)

// SupervisorRegistry names the runtime supervisors shown by /status.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]func() *rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]func() *rtsup.Supervisor{}}
}

// Set registers a getter under name; the getter may return nil while the
// subsystem is stopped. A nil getter deletes the entry.
func (r *SupervisorRegistry) Set(name string, get func() *rtsup.Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if get == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = get
}

// SupervisorStatus is one row of Snapshot. Running is false when the
// subsystem has no live supervisor.
type SupervisorStatus struct {
	Name    string
	Running bool
	State   rtsup.Snapshot
}

func (r *SupervisorRegistry) Snapshot() []SupervisorStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SupervisorStatus, 0, len(r.m))
	for name, get := range r.m {
		st := SupervisorStatus{Name: name}
		if sup := get(); sup != nil {
			st.Running = true
			st.State = sup.Snapshot()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
