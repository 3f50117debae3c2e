package sidekiq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the six-field form with leading seconds ("0 * * * * *"),
// the classic five-field form, and descriptors such as "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// PeriodicJob is a cron descriptor stored as a member of the periodic set,
// scored by its next fire time. Each firing re-scores the same member, which
// is what makes it recur.
type PeriodicJob struct {
	Name  string          `json:"name"`
	Class string          `json:"class"`
	Cron  string          `json:"cron"`
	Queue string          `json:"queue"`
	Args  json.RawMessage `json:"args"`
	Retry *RetryPolicy    `json:"retry,omitempty"`

	schedule cron.Schedule
}

// NextFireAt returns the first fire time strictly after t.
func (pj *PeriodicJob) NextFireAt(t time.Time) time.Time {
	return pj.schedule.Next(t)
}

// IntoJob instantiates one firing as a fresh job.
func (pj *PeriodicJob) IntoJob() *Job {
	args := append(json.RawMessage(nil), pj.Args...)
	if len(args) == 0 {
		args = json.RawMessage("[]")
	}
	return &Job{
		Class:     pj.Class,
		Queue:     pj.Queue,
		Args:      args,
		JID:       newJID(),
		CreatedAt: store.Score(time.Now()),
		Retry:     pj.Retry,
	}
}

func (pj *PeriodicJob) serialize() ([]byte, error) {
	return wire.Encode(pj)
}

func parsePeriodic(raw string) (*PeriodicJob, error) {
	var pj PeriodicJob
	if err := wire.Decode([]byte(raw), &pj); err != nil {
		return nil, malformed("periodic: %v", err)
	}
	if pj.Class == "" {
		return nil, malformed("periodic %q: missing class", pj.Name)
	}
	sched, err := cronParser.Parse(pj.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, pj.Cron, err)
	}
	pj.schedule = sched
	if pj.Queue == "" {
		pj.Queue = DefaultQueue
	}
	return &pj, nil
}

// PeriodicBuilder assembles a periodic job before registering it.
type PeriodicBuilder struct {
	pj PeriodicJob
}

// NewPeriodic starts a builder for the given cron spec.
func NewPeriodic(spec string) (*PeriodicBuilder, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, spec, err)
	}
	return &PeriodicBuilder{pj: PeriodicJob{Cron: spec, Args: json.RawMessage("[]"), schedule: sched}}, nil
}

// Name labels the descriptor. Two registrations with identical fields share one entry.
func (b *PeriodicBuilder) Name(name string) *PeriodicBuilder {
	b.pj.Name = name
	return b
}

// Queue sets the ready queue each firing goes to.
func (b *PeriodicBuilder) Queue(queue string) *PeriodicBuilder {
	b.pj.Queue = queue
	return b
}

// Retry sets the retry policy of each firing.
func (b *PeriodicBuilder) Retry(p *RetryPolicy) *PeriodicBuilder {
	b.pj.Retry = p
	return b
}

// Args sets the arguments template copied into every firing.
func (b *PeriodicBuilder) Args(v any) (*PeriodicBuilder, error) {
	raw, err := encodeArgs(v)
	if err != nil {
		return nil, err
	}
	b.pj.Args = raw
	return b, nil
}

// Register adds the worker to p and stores the descriptor, scored by its next
// fire time from now.
func (b *PeriodicBuilder) Register(ctx context.Context, p *Processor, class string, w Worker, opts ...WorkerOpts) error {
	p.Register(class, w, opts...)
	if b.pj.Queue == "" {
		b.pj.Queue = p.workerQueue(class)
	}
	b.pj.Class = class
	_, err := b.insert(ctx, p.rdb, time.Now())
	return err
}

func (b *PeriodicBuilder) insert(ctx context.Context, rdb redis.UniversalClient, now time.Time) (*PeriodicJob, error) {
	pj := b.pj
	if pj.Queue == "" {
		pj.Queue = DefaultQueue
	}
	raw, err := pj.serialize()
	if err != nil {
		return nil, err
	}
	if err := store.ScheduleAt(ctx, rdb, keys.Periodic, raw, pj.NextFireAt(now)); err != nil {
		return nil, connErr(err)
	}
	return &pj, nil
}

// DestroyAll removes every periodic descriptor.
func DestroyAll(ctx context.Context, rdb redis.UniversalClient) error {
	return connErr(rdb.Del(ctx, keys.Periodic).Err())
}
