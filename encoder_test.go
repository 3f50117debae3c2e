package sidekiq

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEncoder_Roundtrip(t *testing.T) {
	enc := &JSONEncoder{}
	type P struct {
		A    int             `json:"a"`
		B    string          `json:"b"`
		Args json.RawMessage `json:"args"`
	}
	in := P{A: 42, B: "x", Args: json.RawMessage(`[1,"two"]`)}
	data, err := enc.Encode(in)
	require.NoError(t, err, "encode should not error")

	var out P
	require.NoError(t, enc.Decode(data, &out), "decode should not error")
	assert.Equal(t, in.A, out.A)
	assert.Equal(t, in.B, out.B)
	assert.JSONEq(t, string(in.Args), string(out.Args))
}

func TestJSONEncoder_RetryPolicyThroughDecoder(t *testing.T) {
	enc := &JSONEncoder{}
	var out struct {
		Retry *RetryPolicy `json:"retry"`
	}
	require.NoError(t, enc.Decode([]byte(`{"retry":5}`), &out))
	require.Equal(t, 5, out.Retry.Budget(25))
}

func TestJSONEncoder_DecodeError(t *testing.T) {
	enc := &JSONEncoder{}
	var out struct{ A int }
	err := enc.Decode([]byte("{"), &out)
	require.Error(t, err, "expected error for invalid JSON")
}
