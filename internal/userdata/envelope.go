package userdata

import (
	"bytes"
	"encoding/json"
	"time"
)

// Kind records the JSON shape of an enveloped payload.
type Kind string

const (
	KindArray  Kind = "array"
	KindObject Kind = "object"
	KindScalar Kind = "scalar"
)

func (k Kind) valid() bool {
	return k == KindArray || k == KindObject || k == KindScalar
}

// Envelope is the stored form of user data.
type Envelope struct {
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	OwnerID     string          `json:"ownerId"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

func classify(v json.RawMessage) Kind {
	b := bytes.TrimLeft(v, " \t\r\n")
	if len(b) == 0 {
		return KindScalar
	}
	switch b[0] {
	case '[':
		return KindArray
	case '{':
		return KindObject
	default:
		return KindScalar
	}
}

func wrap(owner string, v json.RawMessage, now time.Time) Envelope {
	return Envelope{Kind: classify(v), Payload: v, OwnerID: owner, LastUpdated: now}
}

// unwrap decodes raw as an Envelope. ok is false for values written before
// envelopes existed.
func unwrap(raw json.RawMessage) (Envelope, bool) {
	if classify(raw) != KindObject {
		return Envelope{}, false
	}
	var probe struct {
		Kind    Kind            `json:"kind"`
		Payload json.RawMessage `json:"payload"`
		OwnerID *string         `json:"ownerId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || !probe.Kind.valid() || probe.Payload == nil || probe.OwnerID == nil {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}
