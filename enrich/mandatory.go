package enrich

import "github.com/curately/atsync/common"

// Resolution is the outcome of mandatory-field resolution for one record.
type Resolution struct {
	Valid   bool
	Fields  map[string]string // resolved field name -> effective value
	Missing map[string]string // missing field name -> reason
}

// ResolveMandatory applies the manual-flow required-field rules to a payload.
// For each required field, in order: a caller override is applied to the
// payload and recorded; otherwise a non-empty current value is recorded
// unchanged; otherwise the field is missing and the record invalid. The
// payload is mutated only by overrides.
func ResolveMandatory(entityType string, payload map[string]any, overrides map[string]string) Resolution {
	res := Resolution{
		Valid:   true,
		Fields:  make(map[string]string),
		Missing: make(map[string]string),
	}

	for _, field := range common.MandatoryFields(entityType) {
		if override, ok := overrides[field.Name]; ok && override != "" {
			field.Set(payload, override)
			res.Fields[field.Name] = override
			continue
		}
		if current := field.Get(payload); current != "" {
			res.Fields[field.Name] = current
			continue
		}
		res.Missing[field.Name] = "required field is empty"
		res.Valid = false
	}
	return res
}

// ValidationError converts an invalid resolution into the error surfaced to
// the caller. Returns nil for valid resolutions.
func (r Resolution) ValidationError(entityType, entityID string) error {
	if r.Valid {
		return nil
	}
	return &common.ValidationError{
		EntityType: entityType,
		EntityID:   entityID,
		Missing:    r.Missing,
	}
}
