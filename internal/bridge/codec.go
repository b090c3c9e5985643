package bridge

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Encode serializes an envelope for the wire.
func Encode(env schemas.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Decode parses one frame. Envelopes of unknown kind are rejected.
func Decode(data []byte) (schemas.Envelope, error) {
	var env schemas.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("bridge: malformed envelope: %w", err)
	}
	if !env.Kind.IsKnown() {
		return env, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return env, nil
}

// Payload marshals v into an envelope payload. A nil v yields no payload.
func Payload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to encode payload: %w", err)
	}
	return data, nil
}

// Unpack decodes an envelope payload into out.
func Unpack(env schemas.Envelope, out any) error {
	if out == nil || len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("bridge: failed to decode %s payload: %w", env.Kind, err)
	}
	return nil
}
