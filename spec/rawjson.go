package spec

// RawJSON is a reimplementation of json.RawMessage that supports being used
// as a value type, so that structs embedding it by value encode correctly.
type RawJSON []byte

// MarshalJSON implements the json.Marshaller interface using a value receiver.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// UnmarshalJSON implements the json.Unmarshaller interface.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}
