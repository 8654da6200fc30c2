package projector

import (
	"encoding/json"

	"github.com/quintans/faults"
)

// deepCopyState defends against handlers that return aliased or
// shared substructures. Projection state is JSON-serializable by
// contract, so a JSON round trip is the natural way to copy it rather
// than a workaround for a missing library.
func deepCopyState(state interface{}) (interface{}, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return nil, faults.Errorf("projector: encoding state for deep copy: %w", err)
	}

	var clone interface{}
	if err := json.Unmarshal(body, &clone); err != nil {
		return nil, faults.Errorf("projector: decoding state for deep copy: %w", err)
	}
	return clone, nil
}

func encodeState(state interface{}) ([]byte, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return nil, faults.Errorf("projector: encoding state: %w", err)
	}
	return body, nil
}

func decodeState(body []byte) (interface{}, error) {
	if len(body) == 0 {
		return map[string]interface{}{}, nil
	}
	var state interface{}
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, faults.Errorf("projector: decoding state: %w", err)
	}
	return state, nil
}
