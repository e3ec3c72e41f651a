package serialization

import (
	"encoding/json"
	"errors"
)

// ErrMissingData is returned when a stored envelope carries no payload.
var ErrMissingData = errors.New("cache entry has no data")

// JSON stores envelopes as {"data": ..., "timestamp": ...}.
type JSON struct{}

type jsonEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (JSON) Type() string { return JSONType }

func (JSON) EncodeEntry(data any, timestamp int64) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Data: payload, Timestamp: timestamp})
}

func (JSON) DecodeEntry(raw []byte) ([]byte, int64, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	if len(env.Data) == 0 {
		return nil, 0, ErrMissingData
	}
	return env.Data, env.Timestamp, nil
}

func (JSON) Unmarshal(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
