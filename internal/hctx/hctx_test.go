package hctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHctx_WithStateAndFrom(t *testing.T) {
	base := context.Background()

	_, ok := From(base)
	require.False(t, ok)

	ctx := WithState(base, State{JID: "abc", Class: "Mailer", Queue: "mail", RetryCount: 2})
	got, ok := From(ctx)
	require.True(t, ok)
	require.Equal(t, "abc", got.JID)
	require.Equal(t, "Mailer", got.Class)
	require.Equal(t, "mail", got.Queue)
	require.Equal(t, 2, got.RetryCount)
}
