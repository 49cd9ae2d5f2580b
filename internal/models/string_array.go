package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

// StringArray is a []string stored as a JSON column.
type StringArray []string

// Scan implements sql.Scanner interface
func (s *StringArray) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = StringArray{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("models: unsupported StringArray column value")
	}
}

// Value implements driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Contains reports whether v is one of the elements.
func (s StringArray) Contains(v string) bool {
	return slices.Contains(s, v)
}

// Join returns the elements joined by sep.
func (s StringArray) Join(sep string) string {
	return strings.Join(s, sep)
}
