package dispatch

import (
	"sync"
	"time"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/mediagroup"
	"tgdispatch/internal/reschedule"
)

// chatGate serializes every task addressed to one chat for the whole
// due-check, dispatch and log cycle. rescheduled flips once per pass.
type chatGate struct {
	mu          sync.Mutex
	rescheduled bool
}

// pass is the state shared by the tasks of one run. Nothing outlives it.
type pass struct {
	id       string
	started  time.Time
	tasks    []*domain.Task
	byChat   map[string][]*domain.Task
	cache    *mediagroup.Cache
	resolver *mediagroup.Resolver

	mu      sync.Mutex
	gates   map[string]*chatGate
	notices []reschedule.Notice
	// deactivated tasks by id, with the error that caused it.
	deactivated map[string]error
	// notes are rate limit explanations for rows the pass did not log.
	notes map[string]string
}

func newPass(id string, started time.Time, tasks []domain.Task) *pass {
	p := &pass{
		id:          id,
		started:     started,
		byChat:      map[string][]*domain.Task{},
		cache:       mediagroup.NewCache(),
		gates:       map[string]*chatGate{},
		deactivated: map[string]error{},
		notes:       map[string]string{},
	}
	for i := range tasks {
		t := &tasks[i]
		t.EnsureID()
		p.tasks = append(p.tasks, t)
		chat := domain.ChatOf(t.Destination)
		p.byChat[chat] = append(p.byChat[chat], t)
	}
	return p
}

func (p *pass) gate(chat string) *chatGate {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[chat]
	if !ok {
		g = &chatGate{}
		p.gates[chat] = g
	}
	return g
}

func (p *pass) addNotice(n reschedule.Notice) {
	p.mu.Lock()
	p.notices = append(p.notices, n)
	p.mu.Unlock()
}

func (p *pass) markDeactivated(id string, err error) {
	p.mu.Lock()
	p.deactivated[id] = err
	p.mu.Unlock()
}

// deactivatedErr returns why id was deactivated in this pass, or nil.
func (p *pass) deactivatedErr(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deactivated[id]
}

func (p *pass) setNote(id, text string) {
	p.mu.Lock()
	p.notes[id] = text
	p.mu.Unlock()
}

func (p *pass) note(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notes[id]
}
