package types

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// JSON is the codec used for every frame on the wire.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(v any) ([]byte, error) { return JSON.Marshal(v) }

func Unmarshal(data []byte, v any) error { return JSON.Unmarshal(data, v) }

// NewEnvelope encodes payload into a frame for event on scope.
func NewEnvelope(event, scope string, payload any) (Envelope, error) {
	env := Envelope{Type: event, Scope: scope}
	if payload == nil {
		return env, nil
	}
	raw, err := JSON.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	env.Payload = raw
	return env, nil
}

// NewReply builds the reply frame for the call env.
func NewReply(env Envelope, reply Reply) (Envelope, error) {
	out, err := NewEnvelope(env.Type, env.Scope, reply)
	if err != nil {
		return Envelope{}, err
	}
	out.ReplyTo = env.ID
	return out, nil
}

func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", e.Type)
	}
	if err := JSON.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// DecodeData unpacks the reply's data field into v.
func (r Reply) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("reply has no data")
	}
	return JSON.Unmarshal(r.Data, v)
}
