package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONMap is a jsonb column holding a free-form object. A nil map
// round-trips as SQL NULL, which is how an absent wizard_state is
// represented.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for JSONMap")
	}

	return json.Unmarshal(data, m)
}
