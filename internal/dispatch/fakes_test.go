package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/transport"
)

type memTasks struct {
	mu        sync.Mutex
	tasks     []domain.Task
	schedules [][]domain.ScheduleUpdate
	outcomes  []domain.Outcome
	loadErr   error
}

func (s *memTasks) LoadTasks(context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]domain.Task(nil), s.tasks...), nil
}

func (s *memTasks) SaveSchedules(_ context.Context, u []domain.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, u)
	return nil
}

func (s *memTasks) SaveOutcomes(_ context.Context, o []domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o...)
	return nil
}

func (s *memTasks) outcome(id string) (domain.Outcome, bool) {
	for _, o := range s.outcomes {
		if o.TaskID == id {
			return o, true
		}
	}
	return domain.Outcome{}, false
}

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type memLogs struct {
	mu      sync.Mutex
	entries []domain.LogEntry
	ev      *events
	// readErrs fail the next MostRecent calls, one each.
	readErrs []error
}

func (s *memLogs) MostRecent(_ context.Context, account, destination string) (*domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readErrs) > 0 {
		err := s.readErrs[0]
		s.readErrs = s.readErrs[1:]
		return nil, err
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Account == account && e.Destination == destination {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *memLogs) Append(_ context.Context, e domain.LogEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	if s.ev != nil {
		s.ev.add("log:%s", e.TaskID)
	}
	return nil
}

func (s *memLogs) byTask(id string) []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LogEntry
	for _, e := range s.entries {
		if e.TaskID == id {
			out = append(out, e)
		}
	}
	return out
}

type forwardCall struct {
	account string
	to      domain.Destination
	from    string
	ids     []int
}

// fakeTransport fails calls to a chat with queued errors, then succeeds.
type fakeTransport struct {
	mu       sync.Mutex
	ev       *events
	failures map[string][]error
	always   map[string]error
	joinErr  error
	joined   []string
	texts    []domain.Destination
	forwards []forwardCall
	windows  map[string]map[int]string
	nextID   int
	inFlight map[string]int
	overlap  bool
}

func newFakeTransport(ev *events) *fakeTransport {
	return &fakeTransport{
		ev:       ev,
		failures: map[string][]error{},
		always:   map[string]error{},
		windows:  map[string]map[int]string{},
		nextID:   500,
		inFlight: map[string]int{},
	}
}

func (f *fakeTransport) begin(chat string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight[chat]++
	if f.inFlight[chat] > 1 {
		f.overlap = true
	}
	if err, ok := f.always[chat]; ok {
		return err
	}
	if q := f.failures[chat]; len(q) > 0 {
		f.failures[chat] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeTransport) end(chat string) {
	f.mu.Lock()
	f.inFlight[chat]--
	f.mu.Unlock()
}

func (f *fakeTransport) id() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeTransport) SendText(_ context.Context, account string, to domain.Destination, text string) (transport.Delivery, error) {
	defer f.end(to.Chat)
	f.ev.add("send:%s", to.Chat)
	if err := f.begin(to.Chat); err != nil {
		return transport.Delivery{}, err
	}
	f.mu.Lock()
	f.texts = append(f.texts, to)
	f.mu.Unlock()
	return transport.Delivery{Chat: to.Chat, Topic: to.Topic, IDs: []int{f.id()}}, nil
}

func (f *fakeTransport) Forward(_ context.Context, account string, to domain.Destination, from string, ids []int) (transport.Delivery, error) {
	defer f.end(to.Chat)
	f.ev.add("forward:%s", to.Chat)
	if err := f.begin(to.Chat); err != nil {
		return transport.Delivery{}, err
	}
	f.mu.Lock()
	f.forwards = append(f.forwards, forwardCall{account: account, to: to, from: from, ids: append([]int(nil), ids...)})
	f.mu.Unlock()
	out := transport.Delivery{Chat: to.Chat, Topic: to.Topic}
	for range ids {
		out.IDs = append(out.IDs, f.id())
	}
	return out, nil
}

func (f *fakeTransport) JoinChat(_ context.Context, account, chat string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, account+":"+chat)
	return f.joinErr
}

func (f *fakeTransport) FetchWindow(_ context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[chat]
	if !ok {
		return nil, transport.NotFound(errors.New("chat not indexed"))
	}
	origin := transport.WindowOrigin(anchorID, size)
	var out []domain.MessageRef
	for id, g := range w {
		if id >= origin && id < origin+size {
			out = append(out, domain.MessageRef{Chat: chat, ID: id, GroupKey: g})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type capturePublisher struct {
	mu        sync.Mutex
	summaries []Summary
}

func (p *capturePublisher) Publish(_ context.Context, s Summary) error {
	p.mu.Lock()
	p.summaries = append(p.summaries, s)
	p.mu.Unlock()
	return nil
}
