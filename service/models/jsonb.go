// Package models holds the gorm-facing column types shared by the
// embedded relational state backend. Adapted from the teacher's
// service/models/jsonb.go: kept is the JSONB Scanner/Valuer pair used to
// store a serialized WarningEvent payload alongside a tracked row;
// trimmed are the array variants the teacher's broader domain needed but
// this one never does.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONB is a generic JSON document column, used here to hold one
// serialized WarningEvent payload per tracked row.
type JSONB map[string]interface{}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("JSONB.Scan: unsupported type, expected []byte or string")
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}
