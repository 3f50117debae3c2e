package sidekiq

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is used when neither the producer nor the worker names a queue.
const DefaultQueue = "default"

// DefaultMaxRetries is the retry budget of a job whose policy is "enabled" without a count.
const DefaultMaxRetries = 25

// Job is the Sidekiq-compatible wire record of one unit of work.
// Its serialized form is both the ready-list element and the sorted-set member.
type Job struct {
	Class      string          `json:"class"`
	Queue      string          `json:"queue"`
	Args       json.RawMessage `json:"args"`
	JID        string          `json:"jid"`
	CreatedAt  float64         `json:"created_at"`
	EnqueuedAt float64         `json:"enqueued_at"`
	Retry      *RetryPolicy    `json:"retry,omitempty"`
	// UniqueFor is the uniqueness window in seconds, measured from CreatedAt.
	UniqueFor float64 `json:"unique_for,omitempty"`

	RetryCount   int     `json:"retry_count,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	ErrorClass   string  `json:"error_class,omitempty"`
	FailedAt     float64 `json:"failed_at,omitempty"`
	RetriedAt    float64 `json:"retried_at,omitempty"`
}

// NewJob builds a job with a fresh JID. args is encoded as the positional
// argument list: slices become the list itself, anything else becomes a
// single-element list, and nil becomes an empty list.
func NewJob(class, queue string, args any) (*Job, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &Job{
		Class:     class,
		Queue:     queue,
		Args:      raw,
		JID:       newJID(),
		CreatedAt: store.Score(time.Now()),
	}, nil
}

// Serialize returns the canonical JSON encoding of the job.
func (j *Job) Serialize() ([]byte, error) {
	return wire.Encode(j)
}

// Deserialize decodes a job read from Redis. Structurally invalid input yields ErrMalformedJob.
func Deserialize(raw []byte) (*Job, error) {
	var j Job
	if err := wire.Decode(raw, &j); err != nil {
		return nil, malformed("%v", err)
	}
	if j.Class == "" {
		return nil, malformed("missing class")
	}
	if j.JID == "" {
		return nil, malformed("missing jid")
	}
	args := bytes.TrimSpace(j.Args)
	switch {
	case len(args) == 0 || bytes.Equal(args, []byte("null")):
		j.Args = json.RawMessage("[]")
	case args[0] != '[':
		return nil, malformed("args must be a list, got %s", truncate(args, 32))
	}
	if j.Queue == "" {
		j.Queue = DefaultQueue
	}
	return &j, nil
}

// Fingerprint identifies the job by class, queue and args, independent of its JID.
func (j *Job) Fingerprint() string {
	var args bytes.Buffer
	if err := json.Compact(&args, j.Args); err != nil {
		args.Reset()
		args.Write(j.Args)
	}
	h := sha256.New()
	h.Write([]byte(j.Class))
	h.Write([]byte{0})
	h.Write([]byte(j.Queue))
	h.Write([]byte{0})
	h.Write(args.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}

// UniqueWindow returns the uniqueness window, zero when the job is not unique.
func (j *Job) UniqueWindow() time.Duration {
	if j.UniqueFor <= 0 {
		return 0
	}
	return time.Duration(j.UniqueFor * float64(time.Second))
}

func (j *Job) uniqueKey() string {
	return keys.Unique(j.Queue, j.Class, j.Fingerprint())
}

// ScanArgs decodes the positional arguments into dst, in order.
// Extra arguments are ignored; missing ones are an error.
func (j *Job) ScanArgs(dst ...any) error {
	var elems []json.RawMessage
	if err := wire.Decode(j.Args, &elems); err != nil {
		return malformed("args: %v", err)
	}
	if len(elems) < len(dst) {
		return fmt.Errorf("sidekiq: job %s has %d args, want %d", j.JID, len(elems), len(dst))
	}
	for i, d := range dst {
		if err := wire.Decode(elems[i], d); err != nil {
			return fmt.Errorf("sidekiq: decode arg %d of job %s: %w", i, j.JID, err)
		}
	}
	return nil
}

// RetryPolicy is the "retry" field: false disables retries, true uses the
// default budget, and an integer sets an explicit budget.
type RetryPolicy struct {
	Enabled bool
	Max     int
}

// RetryDisabled sends the job straight to the dead set on its first failure.
func RetryDisabled() *RetryPolicy { return &RetryPolicy{} }

// RetryDefault retries with the processor's default budget.
func RetryDefault() *RetryPolicy { return &RetryPolicy{Enabled: true} }

// RetryTimes retries at most n times. n <= 0 disables retries.
func RetryTimes(n int) *RetryPolicy {
	if n <= 0 {
		return RetryDisabled()
	}
	return &RetryPolicy{Enabled: true, Max: n}
}

// Budget resolves the number of retries allowed, falling back to def.
func (p *RetryPolicy) Budget(def int) int {
	switch {
	case p == nil:
		return def
	case !p.Enabled:
		return 0
	case p.Max > 0:
		return p.Max
	default:
		return def
	}
}

func (p RetryPolicy) MarshalJSON() ([]byte, error) {
	switch {
	case !p.Enabled:
		return []byte("false"), nil
	case p.Max > 0:
		return []byte(strconv.Itoa(p.Max)), nil
	default:
		return []byte("true"), nil
	}
}

func (p *RetryPolicy) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	switch s {
	case "true":
		*p = RetryPolicy{Enabled: true}
		return nil
	case "false", "null":
		*p = RetryPolicy{}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return fmt.Errorf("sidekiq: retry must be a bool or an integer, got %s", s)
	}
	*p = *RetryTimes(int(f))
	return nil
}

// UnitOfWork pairs a job with the ready queue it travels to or came from.
// Whoever holds it owns it; hand-offs are moves.
type UnitOfWork struct {
	Queue string
	Job   *Job

	// leased is the payload as it sits in the working set, set by Fetcher.
	leased []byte
}

// NewUnitOfWork targets the job's own queue.
func NewUnitOfWork(j *Job) *UnitOfWork {
	return &UnitOfWork{Queue: j.Queue, Job: j}
}

// EnqueueDirect stamps enqueued_at and pushes the job onto its ready list.
// Producers and the promoter both write through here.
func (u *UnitOfWork) EnqueueDirect(ctx context.Context, rdb redis.UniversalClient) error {
	u.Job.EnqueuedAt = store.Score(time.Now())
	raw, err := u.Job.Serialize()
	if err != nil {
		return err
	}
	return connErr(store.Push(ctx, rdb, u.Queue, raw))
}

// Schedule stores the job in a time-ordered set due at the given time.
func (u *UnitOfWork) Schedule(ctx context.Context, rdb redis.UniversalClient, set string, at time.Time) error {
	raw, err := u.Job.Serialize()
	if err != nil {
		return err
	}
	return connErr(store.ScheduleAt(ctx, rdb, set, raw, at))
}

// encodeArgs normalizes producer arguments into a JSON list.
func encodeArgs(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("[]"), nil
	}
	var b []byte
	switch a := v.(type) {
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, a); err != nil {
			return nil, fmt.Errorf("sidekiq: encode args: %w", err)
		}
		b = buf.Bytes()
	default:
		enc, err := wire.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("sidekiq: encode args: %w", err)
		}
		b = enc
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	if b[0] == '[' {
		return json.RawMessage(b), nil
	}
	out := make([]byte, 0, len(b)+2)
	out = append(out, '[')
	out = append(out, b...)
	out = append(out, ']')
	return json.RawMessage(out), nil
}

// newJID returns 24 lowercase hex characters, the JID shape Sidekiq produces.
func newJID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:12])
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
