package sidekiq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer_StartStop_Idempotent(t *testing.T) {
	rdb, _ := newMiniClient(t)
	p := NewProcessor(rdb, ProcessorConfig{Concurrency: 1, FetchTimeout: time.Second, Logger: noopLogger{}})
	srv := NewServer(p)

	n, err := srv.Stop()
	require.NoError(t, err)
	require.Zero(t, n)

	srv.Start()
	srv.Start()
	_, err = srv.Stop()
	require.NoError(t, err)
	_, err = srv.Stop()
	require.NoError(t, err)
}

func TestServer_ExecutesJobs(t *testing.T) {
	rdb, _ := newMiniClient(t)
	p := NewProcessor(rdb, ProcessorConfig{Queues: []string{"test-queue"}, Concurrency: 2, FetchTimeout: time.Second})

	executed := make(chan string, 1)
	p.Register("test.job", WorkerFunc(func(ctx context.Context, job *Job) error {
		var msg string
		if err := job.ScanArgs(&msg); err != nil {
			return err
		}
		executed <- msg
		return nil
	}))

	srv := NewServer(p)
	srv.Start()

	_, err := NewClient(rdb).PerformAsync(context.Background(), "test.job", []string{"hello"}, Queue("test-queue"))
	require.NoError(t, err)

	select {
	case msg := <-executed:
		require.Equal(t, "hello", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not executed within timeout")
	}

	_, err = srv.Stop()
	require.NoError(t, err)

	// Restart after stop.
	srv.Start()
	_, err = srv.Stop()
	require.NoError(t, err)
}
