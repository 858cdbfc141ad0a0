package response

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// member is one key/value pair of a JSON object.
type member struct {
	Key   string
	Value json.RawMessage
}

// object is a JSON object decoded with its key order intact. Action entries
// and message parts are processed in the order the backend wrote them.
type object []member

func (o *object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	var out object
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, member{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}
