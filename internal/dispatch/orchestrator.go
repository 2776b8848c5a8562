package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tgdispatch/internal/cronmark"
	"tgdispatch/internal/domain"
	"tgdispatch/internal/due"
	"tgdispatch/internal/mediagroup"
	"tgdispatch/internal/metrics"
	"tgdispatch/internal/reschedule"
	"tgdispatch/internal/transport"
	logx "tgdispatch/pkg/logx"
)

const (
	DefaultWorkers    = 4
	defaultLogTimeout = 10 * time.Second
)

type Deps struct {
	Tasks     TaskStore
	Logs      LogStore
	Transport transport.Transport
	// Publisher is optional.
	Publisher Publisher
	Calc      *cronmark.Calculator
}

type Options struct {
	// Workers bounds how many tasks run at once. Tasks of one chat are
	// always serialized.
	Workers    int
	WindowSize int
	Reschedule reschedule.Options
	// LogTimeout bounds log writes, which still run after ctx is cancelled so
	// an attempt is never left unrecorded.
	LogTimeout time.Duration
	// PublishIdle publishes summaries of passes where every task was skipped.
	PublishIdle bool
	Now         func() time.Time
}

type Orchestrator struct {
	deps    Deps
	opt     Options
	due     *due.Evaluator
	resched *reschedule.Rescheduler
	log     logx.Logger
}

func New(deps Deps, opt Options, log logx.Logger) *Orchestrator {
	if opt.Workers <= 0 {
		opt.Workers = DefaultWorkers
	}
	if opt.WindowSize <= 0 {
		opt.WindowSize = mediagroup.DefaultWindowSize
	}
	if opt.LogTimeout <= 0 {
		opt.LogTimeout = defaultLogTimeout
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if deps.Calc == nil {
		deps.Calc = cronmark.New(nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "dispatch"))
	return &Orchestrator{
		deps:    deps,
		opt:     opt,
		due:     due.New(deps.Calc),
		resched: reschedule.New(deps.Calc, deps.Tasks, opt.Reschedule, log),
		log:     log,
	}
}

func (o *Orchestrator) now() time.Time { return o.opt.Now().In(o.deps.Calc.Location()) }

// RunPass loads the task sheet and processes every active task once.
//
// The returned summary is complete even when err is non-nil; err reports
// write-back and publish failures, which do not undo logged attempts.
func (o *Orchestrator) RunPass(ctx context.Context) (Summary, error) {
	started := o.now()
	id := uuid.NewString()
	log := o.log.With(logx.String("pass", id))

	raw, err := o.deps.Tasks.LoadTasks(ctx)
	if err != nil {
		return Summary{PassID: id, Started: started, Finished: o.now()}, fmt.Errorf("load tasks: %w", err)
	}
	p := newPass(id, started, raw)
	p.resolver = mediagroup.New(o.deps.Transport, p.cache, mediagroup.Options{WindowSize: o.opt.WindowSize}, log)

	originalSchedule := make([]string, len(p.tasks))
	var active []int
	for i, t := range p.tasks {
		originalSchedule[i] = t.Schedule
		if t.Active {
			active = append(active, i)
		}
	}
	log.Info("pass started", logx.Int("tasks", len(p.tasks)), logx.Int("active", len(active)))

	reports := make([]*TaskReport, len(p.tasks))
	var g errgroup.Group
	g.SetLimit(o.opt.Workers)
	for _, i := range active {
		t := p.tasks[i]
		g.Go(func() error {
			rep := o.process(ctx, p, t, log)
			reports[i] = &rep
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{PassID: id, Started: started, Notices: p.notices}
	var outcomes []domain.Outcome
	for i, t := range p.tasks {
		rep := reports[i]
		changed := t.Schedule != originalSchedule[i]
		deactErr := p.deactivatedErr(t.ID)
		note := p.note(t.ID)
		if rep == nil && !changed && deactErr == nil && note == "" {
			continue
		}

		out := domain.Outcome{TaskID: t.ID, Row: t.Row, Result: t.Result, Link: t.Link, Active: t.Active, Schedule: t.Schedule}
		if rep != nil {
			rep.Schedule = t.Schedule
			if deactErr != nil {
				rep.Deactivated = true
				if rep.Err == nil {
					rep.Err = deactErr
				}
			}
			switch {
			case rep.State == StateLoggedSuccess || rep.State == StateLoggedFailure:
				out.Result, out.Link = rep.Result, rep.Link
			case note != "":
				out.Result = note
			case rep.Result != "":
				out.Result = rep.Result
			}
			sum.Reports = append(sum.Reports, *rep)
			metrics.RecordTask(rep.State.String())
		} else if note != "" {
			out.Result = note
		}
		outcomes = append(outcomes, out)
	}

	for _, r := range sum.Reports {
		sum.Processed++
		switch r.State {
		case StateLoggedSuccess:
			sum.Succeeded++
		case StateLoggedFailure, StateAborted:
			sum.Failed++
		case StateSkipped:
			sum.Skipped++
		}
	}
	sum.Deactivated = len(p.deactivated)

	var errs []error
	if len(outcomes) > 0 {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opt.LogTimeout)
		if err := o.deps.Tasks.SaveOutcomes(wctx, outcomes); err != nil {
			errs = append(errs, fmt.Errorf("save outcomes: %w", err))
		}
		cancel()
	}

	sum.Finished = o.now()
	stats := p.cache.Stats()
	metrics.RecordWindowLookups(stats.Fetches, stats.Hits)
	metrics.RecordPass(sum.Finished.Sub(started), sum.Finished)

	log.Info("pass finished",
		logx.Int("processed", sum.Processed),
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("skipped", sum.Skipped),
		logx.Int("failed", sum.Failed),
		logx.Int("deactivated", sum.Deactivated),
		logx.Int("notices", len(sum.Notices)),
		logx.Duration("took", sum.Finished.Sub(started)),
	)

	if o.deps.Publisher != nil && (sum.Eventful() || o.opt.PublishIdle) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opt.LogTimeout)
		if err := o.deps.Publisher.Publish(wctx, sum); err != nil {
			errs = append(errs, fmt.Errorf("publish summary: %w", err))
		}
		cancel()
	}
	return sum, errors.Join(errs...)
}

func (o *Orchestrator) process(ctx context.Context, p *pass, t *domain.Task, log logx.Logger) TaskReport {
	rep := TaskReport{
		TaskID:      t.ID,
		Row:         t.Row,
		Account:     t.Account,
		Destination: t.Destination,
		State:       StatePending,
	}
	log = log.With(logx.String("task", t.ID), logx.String("account", t.Account), logx.String("dest", t.Destination))

	g := p.gate(domain.ChatOf(t.Destination))
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		rep.State, rep.Err = StateAborted, err
		return rep
	}
	// A sibling's rate limit may have deactivated this task earlier in the pass.
	if !t.Active {
		rep.State, rep.Deactivated, rep.Err = StateSkipped, true, p.deactivatedErr(t.ID)
		return rep
	}

	rep.State = StateDueCheck
	dest, err := domain.ParseDestination(t.Destination)
	if err != nil {
		o.configFailure(ctx, p, t, &rep, err, log)
		return rep
	}

	// Nothing is logged when the log cannot be read: an entry would mark the
	// task done until its next activation.
	last, err := o.deps.Logs.MostRecent(ctx, t.Account, t.Destination)
	if err != nil {
		rep.State, rep.Err = StateAborted, fmt.Errorf("read log: %w", err)
		rep.Result = domain.ErrorPrefix + rep.Err.Error()
		log.Error("log lookup failed", logx.Err(err))
		return rep
	}

	dec, err := o.due.IsDue(*t, last, o.now())
	if err != nil {
		o.configFailure(ctx, p, t, &rep, err, log)
		return rep
	}
	if !dec.Due {
		rep.State = StateSkipped
		log.Trace("not due", logx.Time("mark", dec.Mark))
		return rep
	}

	rep.State = StateDispatching
	d, result, err := o.deliver(ctx, p, t, dest, log)
	if transport.Classify(err) == transport.KindPermissionDenied {
		if jerr := o.join(ctx, t, dest); jerr != nil {
			log.Warn("join failed", logx.Err(jerr))
			err = fmt.Errorf("%w (join: %v)", err, jerr)
		} else {
			log.Info("joined chat, retrying")
			d, result, err = o.deliver(ctx, p, t, dest, log)
		}
	}

	var rl *transport.RateLimitedError
	if errors.As(err, &rl) {
		if rerr := o.rateLimited(ctx, p, g, dest.Chat, rl.MinInterval, log); rerr != nil {
			err = errors.Join(err, rerr)
		}
		if derr := p.deactivatedErr(t.ID); derr != nil {
			rep.Deactivated = true
		}
	}

	if err != nil {
		rep.Err = err
		metrics.RecordTransportError(transport.Classify(err).String())
		log.Warn("dispatch failed", logx.String("kind", transport.Classify(err).String()), logx.Err(err))
		o.record(ctx, p, t, &rep, domain.ErrorPrefix+err.Error(), "")
		return rep
	}

	link := d.Link
	if link == "" {
		link = domain.MessageLink(dest.Chat, dest.Topic, d.FirstID())
	}
	log.Info("dispatched", logx.String("result", result), logx.String("link", link))
	o.record(ctx, p, t, &rep, result, link)
	return rep
}

// deliver forwards the payload's album when it links to a message and sends it
// as text otherwise.
func (o *Orchestrator) deliver(ctx context.Context, p *pass, t *domain.Task, dest domain.Destination, log logx.Logger) (transport.Delivery, string, error) {
	src, refs, err := p.resolver.ResolveLink(ctx, t.Payload)
	if errors.Is(err, mediagroup.ErrNotMessageLink) {
		d, err := o.deps.Transport.SendText(ctx, t.Account, dest, t.Payload)
		if err == nil {
			metrics.RecordDelivery(t.Account, "text")
		}
		return d, domain.ResultSent, err
	}

	ids := make([]int, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	if err != nil {
		// Album lookup is best effort; the anchor alone still goes out.
		log.Warn("album lookup failed, forwarding anchor only", logx.Err(err))
		ids = []int{src.ID}
	}

	d, err := o.deps.Transport.Forward(ctx, t.Account, dest, src.Chat, ids)
	if err == nil {
		metrics.RecordDelivery(t.Account, "forward")
	}
	return d, domain.ResultForwarded, err
}

// join makes the account a member of the forward source (if any) and of the
// destination.
func (o *Orchestrator) join(ctx context.Context, t *domain.Task, dest domain.Destination) error {
	if src, ok := domain.ParseSourceLink(t.Payload); ok && src.Chat != dest.Chat {
		if err := o.deps.Transport.JoinChat(ctx, t.Account, src.Chat); err != nil {
			return err
		}
	}
	return o.deps.Transport.JoinChat(ctx, t.Account, dest.Chat)
}

// rateLimited rewrites the schedules of chat once per pass. The caller holds
// the chat gate.
func (o *Orchestrator) rateLimited(ctx context.Context, p *pass, g *chatGate, chat string, minInterval time.Duration, log logx.Logger) error {
	if g.rescheduled {
		log.Debug("chat already rescheduled in this pass", logx.String("chat", chat))
		return nil
	}
	g.rescheduled = true

	n, err := o.resched.Apply(ctx, chat, minInterval, p.byChat[chat], o.now())
	deactivated := 0
	for _, c := range n.Changes {
		var ue *reschedule.UnrepresentableError
		if !errors.As(c.Err, &ue) {
			continue
		}
		for _, t := range p.byChat[chat] {
			if t.ID == c.TaskID {
				t.Active = false
			}
		}
		p.markDeactivated(c.TaskID, c.Err)
		deactivated++
		log.Error("task deactivated", logx.String("deactivated", c.TaskID), logx.Err(c.Err))
	}
	p.addNotice(n)
	for _, c := range n.Changes {
		p.setNote(c.TaskID, n.ChangeText(c))
	}
	metrics.RecordRateLimit(len(n.Rewritten()), deactivated)
	if err != nil {
		log.Error("persist rewritten schedules failed", logx.Err(err))
	}
	return err
}

func (o *Orchestrator) configFailure(ctx context.Context, p *pass, t *domain.Task, rep *TaskReport, err error, log logx.Logger) {
	rep.Err, rep.ConfigError = err, true
	log.Error("invalid task row", logx.Err(err))
	o.record(ctx, p, t, rep, domain.ErrorPrefix+err.Error(), "")
}

// record appends the attempt's log entry. It runs exactly once per attempted
// task, after the attempt completed.
func (o *Orchestrator) record(ctx context.Context, p *pass, t *domain.Task, rep *TaskReport, result, link string) {
	entry := domain.LogEntry{
		Timestamp:   o.now(),
		Account:     t.Account,
		Destination: t.Destination,
		Result:      result,
		Link:        link,
		TaskID:      t.ID,
		PassID:      p.id,
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opt.LogTimeout)
	defer cancel()
	if err := o.deps.Logs.Append(wctx, entry); err != nil {
		rep.Err = errors.Join(rep.Err, fmt.Errorf("append log: %w", err))
		o.log.Error("append log entry failed", logx.String("task", t.ID), logx.Err(err))
	}
	rep.Result, rep.Link = result, link
	if domain.IsFailure(result) {
		rep.State = StateLoggedFailure
	} else {
		rep.State = StateLoggedSuccess
	}
}
