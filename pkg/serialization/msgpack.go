package serialization

import "github.com/vmihailenco/msgpack/v5"

// Msgpack stores envelopes as MessagePack maps with the same field names as JSON.
type Msgpack struct{}

type msgpackEnvelope struct {
	Data      msgpack.RawMessage `msgpack:"data"`
	Timestamp int64              `msgpack:"timestamp"`
}

func (Msgpack) Type() string { return MsgpackType }

func (Msgpack) EncodeEntry(data any, timestamp int64) ([]byte, error) {
	payload, err := msgpack.Marshal(data)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&msgpackEnvelope{Data: payload, Timestamp: timestamp})
}

func (Msgpack) DecodeEntry(raw []byte) ([]byte, int64, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	if len(env.Data) == 0 {
		return nil, 0, ErrMissingData
	}
	return env.Data, env.Timestamp, nil
}

func (Msgpack) Unmarshal(payload []byte, v any) error {
	return msgpack.Unmarshal(payload, v)
}
