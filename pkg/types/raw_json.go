package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RawJSON stores an opaque JSON document (e.g. the payment gateway result).
// It is written as text so jsonb columns accept it under the simple protocol.
type RawJSON json.RawMessage

// Value implements driver.Valuer.
func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	if !json.Valid(r) {
		return nil, fmt.Errorf("raw json: invalid document")
	}
	return string(r), nil
}

// Scan implements sql.Scanner.
func (r *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append(RawJSON(nil), v...)
	case string:
		*r = RawJSON(v)
	default:
		return fmt.Errorf("raw json: unsupported source type %T", src)
	}
	return nil
}

// MarshalJSON keeps the document verbatim.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores a copy of the document.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("raw json: nil receiver")
	}
	*r = append((*r)[:0], data...)
	return nil
}
