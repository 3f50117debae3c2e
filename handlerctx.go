package sidekiq

import (
	"context"

	"github.com/UniQw/sidekiq-go/internal/hctx"
)

// JobInfo identifies the job currently being performed.
type JobInfo struct {
	JID        string
	Class      string
	Queue      string
	RetryCount int
}

// CurrentJob returns the job the processor is performing on ctx.
// ok is false outside of a Perform call made by a Processor.
func CurrentJob(ctx context.Context) (JobInfo, bool) {
	st, ok := hctx.From(ctx)
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{JID: st.JID, Class: st.Class, Queue: st.Queue, RetryCount: st.RetryCount}, true
}

func withJob(ctx context.Context, j *Job) context.Context {
	return hctx.WithState(ctx, hctx.State{JID: j.JID, Class: j.Class, Queue: j.Queue, RetryCount: j.RetryCount})
}
