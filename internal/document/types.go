package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldKind is one of the recognised section fields.
type FieldKind string

const (
	FieldBenefit       FieldKind = "benefit"
	FieldBenefits      FieldKind = "benefits"
	FieldFee           FieldKind = "fee"
	FieldAgreement     FieldKind = "agreement"
	FieldCondition     FieldKind = "condition"
	FieldConditions    FieldKind = "conditions"
	FieldEtc           FieldKind = "etc"
	FieldOverseasUsage FieldKind = "overseas_usage"
)

// FieldKinds lists the recognised fields in the order fragments are emitted
// for a section.
var FieldKinds = []FieldKind{
	FieldBenefit,
	FieldBenefits,
	FieldFee,
	FieldAgreement,
	FieldCondition,
	FieldConditions,
	FieldEtc,
	FieldOverseasUsage,
}

// Valid reports whether k is a recognised field kind.
func (k FieldKind) Valid() bool {
	for _, f := range FieldKinds {
		if f == k {
			return true
		}
	}
	return false
}

// MinFragmentLength is the minimum merged text length, in characters, for a
// field to become a fragment.
const MinFragmentLength = 10

// Fragment is a retrievable unit of text from one field of one record.
// Fragments are values; nothing mutates them after construction.
type Fragment struct {
	Content    string    `json:"content"`
	EntityName string    `json:"entity_name"`
	FieldKind  FieldKind `json:"field_kind"`
	Heading    string    `json:"heading"`
	Subheading string    `json:"subheading"`
	Source     string    `json:"source,omitempty"`
}

// Record is a validated card record.
type Record struct {
	EntityName string    `json:"card_name"`
	Sections   []Section `json:"sections"`
}

// Section is one titled block of a record.
type Section struct {
	Heading    string
	Subheading string
	Fields     map[FieldKind]TextList
}

// UnmarshalJSON keeps heading, subheading and the recognised fields, and
// drops everything else.
func (s *Section) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("section: %w", err)
	}

	*s = Section{Fields: make(map[FieldKind]TextList)}
	if err := decodeOptionalString(raw["heading"], &s.Heading); err != nil {
		return fmt.Errorf("section heading: %w", err)
	}
	if err := decodeOptionalString(raw["subheading"], &s.Subheading); err != nil {
		return fmt.Errorf("section subheading: %w", err)
	}

	for _, kind := range FieldKinds {
		msg, ok := raw[string(kind)]
		if !ok {
			continue
		}
		var list TextList
		if err := json.Unmarshal(msg, &list); err != nil {
			return fmt.Errorf("field %s: %w", kind, err)
		}
		if len(list) > 0 {
			s.Fields[kind] = list
		}
	}
	return nil
}

// TextList is a field value: a single string or a list of strings in JSON.
type TextList []string

// UnmarshalJSON accepts null, "text" and ["a", "b"].
func (t *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TextList{s}
		return nil
	default:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("want string or list of strings: %w", err)
		}
		*t = list
		return nil
	}
}

func decodeOptionalString(msg json.RawMessage, dst *string) error {
	if len(msg) == 0 || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return nil
	}
	return json.Unmarshal(msg, dst)
}
