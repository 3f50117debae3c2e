package sidekiq

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder defines how jobs and their arguments cross the Redis boundary.
type Encoder interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONEncoder writes with the standard library, whose output is what other
// Sidekiq-compatible clients expect, and reads with sonic on the hot fetch path.
type JSONEncoder struct{}

// Encode serializes a value to JSON using standard library.
func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

var wire Encoder = &JSONEncoder{}
