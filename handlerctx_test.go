package sidekiq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentJob_NoState(t *testing.T) {
	_, ok := CurrentJob(context.Background())
	require.False(t, ok)
}

func TestCurrentJob_WithJob(t *testing.T) {
	j := &Job{JID: "abc", Class: "Mailer", Queue: "mail", RetryCount: 3}
	info, ok := CurrentJob(withJob(context.Background(), j))
	require.True(t, ok)
	require.Equal(t, JobInfo{JID: "abc", Class: "Mailer", Queue: "mail", RetryCount: 3}, info)
}
