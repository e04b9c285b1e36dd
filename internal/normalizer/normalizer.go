// Package normalizer turns raw field values into display strings and change
// log records.
package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"field-change-log/internal/models"
)

// EmptyDisplay is shown for absent values
const EmptyDisplay = "(empty)"

// Normalize produces the display form of a field value. It never fails:
// unexpected raw values are stringified.
func Normalize(fieldName string, value models.Value) models.NormalizedChange {
	change := models.NormalizedChange{FieldName: fieldName}

	switch v := value.(type) {
	case models.LookupValue:
		if len(v) == 0 {
			change.DisplayValue = EmptyDisplay
			return change
		}
		ref := v[0]
		change.DisplayValue = FormatLookup(ref)
		change.RawValue = ref
	case models.OptionSetValue:
		code := strconv.Itoa(v.Code)
		change.DisplayValue = withRaw(labelOr(v.Label, true, code), code)
		change.RawValue = v.Code
	case models.ScalarValue:
		if v.Raw == nil {
			change.DisplayValue = EmptyDisplay
			return change
		}
		raw := Stringify(v.Raw)
		change.DisplayValue = withRaw(labelOr(v.Label, v.HasLabel, raw), raw)
		change.RawValue = jsonSafe(v.Raw)
	default:
		change.DisplayValue = EmptyDisplay
	}

	return change
}

// FormatLookup renders a lookup reference
func FormatLookup(ref models.Lookup) string {
	return fmt.Sprintf("ID: %s, Name: %s, Type: %s", ref.ID, ref.Name, ref.EntityType)
}

// ToLogRecord builds the change log record for an event
func ToLogRecord(event models.FieldChangeEvent) models.LogRecord {
	change := Normalize(event.FieldName, event.RawValue)

	return models.LogRecord{
		models.FieldTitle:          Title(event.FieldName, event.SourceEntity),
		models.FieldFieldName:      event.FieldName,
		models.FieldNewValue:       change.DisplayValue,
		models.FieldRawValue:       encodeRaw(change.RawValue),
		models.FieldSourceEntity:   event.SourceEntity,
		models.FieldSourceRecordID: event.SourceRecordID,
	}
}

// Title is the name of a change log record
func Title(fieldName, sourceEntity string) string {
	return fmt.Sprintf("Change on %s for %s record", fieldName, sourceEntity)
}

// FromRaw classifies a loosely typed value, such as decoded JSON or a
// database column. label is the display text the source exposes, if any.
//
// A non-empty sequence whose first element looks like a lookup becomes a
// LookupValue, nil becomes EmptyValue, an integral number with a label
// becomes an OptionSetValue and everything else is a ScalarValue.
func FromRaw(raw any, label *string) models.Value {
	switch v := raw.(type) {
	case nil:
		return models.EmptyValue{}
	case models.Value:
		return v
	case models.Lookup:
		return models.LookupValue{v}
	case []models.Lookup:
		if len(v) > 0 {
			return models.LookupValue(v)
		}
	case []any:
		if len(v) > 0 {
			if ref, ok := lookupFromMap(v[0]); ok {
				return models.LookupValue{ref}
			}
		}
	case []map[string]any:
		if len(v) > 0 {
			if ref, ok := lookupFromMap(v[0]); ok {
				return models.LookupValue{ref}
			}
		}
	}

	scalar := models.ScalarValue{Raw: raw}
	if label != nil {
		scalar.Label = *label
		scalar.HasLabel = true
		if code, ok := integral(raw); ok {
			return models.OptionSetValue{Code: code, Label: *label}
		}
	}
	return scalar
}

// Stringify converts a raw value to its plain string form
func Stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	}

	if data, err := json.Marshal(raw); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", raw)
}

func lookupFromMap(item any) (models.Lookup, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return models.Lookup{}, false
	}
	_, hasID := m["id"]
	if !hasID {
		return models.Lookup{}, false
	}
	return models.Lookup{
		ID:         field(m, "id"),
		Name:       field(m, "name"),
		EntityType: field(m, "entityType"),
	}, true
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

func integral(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, hence the strict bound
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return int(v), true
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

func labelOr(label string, hasLabel bool, fallback string) string {
	if hasLabel && label != "" {
		return label
	}
	return fallback
}

func withRaw(display, raw string) string {
	return fmt.Sprintf("%s (Raw value: %s)", display, raw)
}

// jsonSafe keeps raw values that encode as JSON and stringifies the rest
func jsonSafe(raw any) any {
	switch v := raw.(type) {
	case []byte:
		return string(v)
	}
	if _, err := json.Marshal(raw); err != nil {
		return Stringify(raw)
	}
	return raw
}

func encodeRaw(raw any) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return strconv.Quote(Stringify(raw))
	}
	return string(data)
}
