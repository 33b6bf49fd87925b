package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseRecord decodes and validates a raw record. The top level must be a
// JSON object; a missing card_name is left empty for the caller to fill.
func ParseRecord(data []byte) (*Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("record must be a JSON object")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	rec.EntityName = strings.TrimSpace(rec.EntityName)
	return &rec, nil
}

// Fragments slices the record into field-level fragments. Fields whose
// merged text is shorter than MinFragmentLength are dropped.
func (r *Record) Fragments(source string) []Fragment {
	var out []Fragment
	for _, sec := range r.Sections {
		for _, kind := range FieldKinds {
			merged := mergeText(sec.Fields[kind])
			if utf8.RuneCountInString(merged) < MinFragmentLength {
				continue
			}
			out = append(out, Fragment{
				Content:    FormatContent(r.EntityName, sec.Heading, sec.Subheading, kind, merged),
				EntityName: r.EntityName,
				FieldKind:  kind,
				Heading:    sec.Heading,
				Subheading: sec.Subheading,
				Source:     source,
			})
		}
	}
	return out
}

// FormatContent renders the indexed text of a fragment:
//
//	[entity]
//	heading - subheading
//	<field>
//	merged text
func FormatContent(entity, heading, subheading string, kind FieldKind, merged string) string {
	return fmt.Sprintf("[%s]\n%s - %s\n<%s>\n%s", entity, heading, subheading, kind, merged)
}

func mergeText(items []string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
