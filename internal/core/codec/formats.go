package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var errNoPayload = errors.New("missing payload")

// payloadFunc decodes the envelope's payload into v.
type payloadFunc func(v any) error

// framing turns {type, payload} into bytes and back.
type framing interface {
	encode(typ string, payload any) ([]byte, error)
	decode(data []byte) (string, payloadFunc, error)
}

// --- json ---

type jsonFraming struct{}

type jsonEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (jsonFraming) encode(typ string, payload any) ([]byte, error) {
	env := jsonEnvelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func (jsonFraming) decode(data []byte) (string, payloadFunc, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	return env.Type, func(v any) error {
		if len(env.Payload) == 0 || string(env.Payload) == "null" {
			return errNoPayload
		}
		return json.Unmarshal(env.Payload, v)
	}, nil
}

// --- cbor ---

// cborFraming uses Core Deterministic Encoding so identical commands produce identical frames.
type cborFraming struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborEnvelope struct {
	Type    string          `cbor:"type"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

func newCBORFraming() (cborFraming, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return cborFraming{}, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return cborFraming{}, fmt.Errorf("cbor decoder: %w", err)
	}
	return cborFraming{enc: enc, dec: dec}, nil
}

func (f cborFraming) encode(typ string, payload any) ([]byte, error) {
	env := cborEnvelope{Type: typ}
	if payload != nil {
		raw, err := f.enc.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return f.enc.Marshal(env)
}

func (f cborFraming) decode(data []byte) (string, payloadFunc, error) {
	var env cborEnvelope
	if err := f.dec.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	return env.Type, func(v any) error {
		if len(env.Payload) == 0 {
			return errNoPayload
		}
		return f.dec.Unmarshal(env.Payload, v)
	}, nil
}

// --- protobuf ---

// protoFraming carries the envelope as a google.protobuf.Struct, for engines
// embedding a protobuf runtime rather than a JSON parser.
type protoFraming struct{}

func (protoFraming) encode(typ string, payload any) ([]byte, error) {
	fields := map[string]any{"type": typ}
	if payload != nil {
		// Round-trip through JSON to get the generic map/slice/float64 shape structpb accepts.
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		fields["payload"] = generic
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (protoFraming) decode(data []byte) (string, payloadFunc, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return "", nil, err
	}
	var typ string
	if v, ok := s.GetFields()["type"]; ok {
		typ = v.GetStringValue()
	}
	payload, hasPayload := s.GetFields()["payload"]
	return typ, func(v any) error {
		if !hasPayload {
			return errNoPayload
		}
		raw, err := json.Marshal(payload.AsInterface())
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	}, nil
}
