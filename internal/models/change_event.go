package models

// Lookup is a reference to another record
type Lookup struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EntityType string `json:"entityType"`
}

// OptionSet is a selected choice from a closed set
type OptionSet struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// Value is the raw value of a changed field. It is one of LookupValue,
// OptionSetValue, ScalarValue or EmptyValue.
type Value interface {
	isValue()
}

// LookupValue holds the references of a lookup field. Lookup fields carry
// zero or one reference; the host still hands them over as a collection.
type LookupValue []Lookup

// OptionSetValue is an option set selection
type OptionSetValue OptionSet

// ScalarValue is any other present value, with an optional display label
type ScalarValue struct {
	Raw      any
	Label    string
	HasLabel bool
}

// EmptyValue marks an absent value
type EmptyValue struct{}

func (LookupValue) isValue()    {}
func (OptionSetValue) isValue() {}
func (ScalarValue) isValue()    {}
func (EmptyValue) isValue()     {}

// FieldChangeEvent is a snapshot of one field change
type FieldChangeEvent struct {
	FieldName      string
	RawValue       Value
	SourceEntity   string
	SourceRecordID string
}

// NormalizedChange is the display form of a changed value
type NormalizedChange struct {
	FieldName    string `json:"fieldName"`
	DisplayValue string `json:"displayValue"`
	RawValue     any    `json:"rawValue"`
}

// LogRecord is the flat payload of a change log record. Keys are the
// attribute names of the downstream record type.
type LogRecord map[string]string

// LogRecord attribute names
const (
	FieldTitle          = "ams_name"
	FieldFieldName      = "ams_fieldname"
	FieldNewValue       = "ams_newvalue"
	FieldRawValue       = "ams_rawvalue"
	FieldSourceEntity   = "ams_sourceentity"
	FieldSourceRecordID = "ams_sourcerecordid"
)

// DefaultLogEntity is the logical name of the change log record type
const DefaultLogEntity = "ams_fieldchangelog"
