package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// InternalKey is the sidecar field holding the conversion bookkeeping.
const InternalKey = "internal"

// ErrNotObject is returned when converter metadata does not encode to a JSON object.
var ErrNotObject = errors.New("codec: metadata must encode to a JSON object")

// Internal is the bookkeeping block of a sidecar.
type Internal struct {
	Dependencies []string `json:"dependencies"`
	Outputs      []string `json:"outputs"`
}

// Sidecar is a decoded metadata sidecar.
type Sidecar struct {
	// Fields holds the converter's own fields, undecoded.
	Fields   map[string]json.RawMessage
	Internal Internal
}

// EncodeSidecar merges the fields of meta with the internal block.
// meta may be nil; a meta field named "internal" is replaced.
func EncodeSidecar(c Codec, meta any, internal Internal) ([]byte, error) {
	if c == nil {
		c = Default
	}

	doc := make(map[string]json.RawMessage)
	if meta != nil {
		raw, err := c.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("codec: encode metadata: %w", err)
		}
		if err := c.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
		}
		if doc == nil {
			// meta encoded to null.
			doc = make(map[string]json.RawMessage)
		}
	}

	if internal.Dependencies == nil {
		internal.Dependencies = []string{}
	}
	if internal.Outputs == nil {
		internal.Outputs = []string{}
	}
	block, err := c.Marshal(internal)
	if err != nil {
		return nil, err
	}
	doc[InternalKey] = block

	return c.Marshal(doc)
}

// DecodeSidecar splits a sidecar into converter fields and internal block.
func DecodeSidecar(c Codec, data []byte) (Sidecar, error) {
	if c == nil {
		c = Default
	}

	var doc map[string]json.RawMessage
	if err := c.Unmarshal(data, &doc); err != nil {
		return Sidecar{}, fmt.Errorf("codec: decode sidecar: %w", err)
	}

	var sc Sidecar
	if block, ok := doc[InternalKey]; ok {
		if err := c.Unmarshal(block, &sc.Internal); err != nil {
			return Sidecar{}, fmt.Errorf("codec: decode internal block: %w", err)
		}
		delete(doc, InternalKey)
	}
	sc.Fields = doc
	return sc, nil
}

// DecodeFields decodes the converter fields of a sidecar into v.
func DecodeFields(c Codec, data []byte, v any) error {
	if c == nil {
		c = Default
	}
	sc, err := DecodeSidecar(c, data)
	if err != nil {
		return err
	}
	raw, err := c.Marshal(sc.Fields)
	if err != nil {
		return err
	}
	return c.Unmarshal(raw, v)
}
