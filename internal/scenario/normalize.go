package scenario

import (
	"fmt"
	"strings"
)

// RecordKind tags where a RawRecord came from.
type RecordKind int

const (
	KindForm RecordKind = iota
	KindCSVRow
	KindJSONObject
)

func (k RecordKind) String() string {
	switch k {
	case KindForm:
		return "form"
	case KindCSVRow:
		return "csv_row"
	case KindJSONObject:
		return "json_object"
	default:
		return "unknown"
	}
}

// RawRecord is one unvalidated input record. Fields holds lower-cased keys
// mapped to string values; Invalid is set when the record could not be read
// as a key/value mapping at all.
type RawRecord struct {
	Kind     RecordKind
	Position int
	Fields   map[string]string
	Invalid  string
}

// Draft is a normalized scenario that has not been assigned an id yet.
type Draft struct {
	Name        string
	Description string
	RiskType    string
}

// Text returns the free text used for matching and prompting.
func (d Draft) Text() string {
	return strings.TrimSpace(d.Name + " " + d.Description)
}

var fieldAliases = map[string][]string{
	"name":        {"name", "title", "scenario"},
	"description": {"description", "desc"},
	"risktype":    {"risktype", "risk_type", "risk type", "risk"},
}

// FromForm builds a record from explicit submission fields.
func FromForm(name, description, riskType string) RawRecord {
	return RawRecord{
		Kind: KindForm,
		Fields: map[string]string{
			"name":        name,
			"description": description,
			"risktype":    riskType,
		},
	}
}

// FromCSVRow pairs a header with one data row. Short rows leave the trailing
// columns empty and extra cells are ignored.
func FromCSVRow(header, row []string, line int) RawRecord {
	fields := make(map[string]string, len(header))
	for i, col := range header {
		key := normalizeKey(col)
		if key == "" || i >= len(row) {
			continue
		}
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = row[i]
	}
	return RawRecord{Kind: KindCSVRow, Position: line, Fields: fields}
}

// FromJSONObject reads a decoded JSON object. Non-string scalars are
// rendered with fmt; nested arrays and objects are dropped.
func FromJSONObject(obj map[string]any, index int) RawRecord {
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		key := normalizeKey(k)
		if key == "" {
			continue
		}
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[key] = val
		case float64, bool:
			fields[key] = fmt.Sprint(val)
		}
	}
	return RawRecord{Kind: KindJSONObject, Position: index, Fields: fields}
}

func invalidRecord(kind RecordKind, pos int, reason string) RawRecord {
	return RawRecord{Kind: kind, Position: pos, Invalid: reason}
}

// Normalize resolves aliased fields, collapses whitespace and validates the
// record. Only a missing name is an error.
func Normalize(rec RawRecord) (Draft, error) {
	if rec.Invalid != "" {
		return Draft{}, &ValidationError{Reason: rec.Invalid}
	}
	d := Draft{
		Name:        collapse(rec.lookup("name")),
		Description: collapse(rec.lookup("description")),
		RiskType:    collapse(rec.lookup("risktype")),
	}
	if d.Name == "" {
		return Draft{}, &ValidationError{Field: "name", Reason: "missing name"}
	}
	return d, nil
}

func (r RawRecord) lookup(field string) string {
	for _, alias := range fieldAliases[field] {
		if v, ok := r.Fields[alias]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeKey(k string) string {
	return strings.ToLower(collapse(k))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
