package webstash

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Serializer encodes typed values into the byte slices backends
// store. Gob is the default; JSON trades speed for entries that stay
// inspectable in the backend.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type gobSerializer struct{}

func (gobSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobSerializer) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func serializerFor(name string) (Serializer, error) {
	switch name {
	case SerializerGob:
		return gobSerializer{}, nil
	case SerializerJSON:
		return jsonSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
