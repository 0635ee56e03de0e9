package connect

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// codecName replaces connect's protojson codec, so plain Go structs travel
// as application/json.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	return nil
}
