package ldif

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Attribute is one attribute description and its values, in file order.
// Values hold raw bytes; binary values decoded from base64 are kept as-is.
type Attribute struct {
	Name   string
	Values []string
}

// Entry is a single directory entry decoded from an LDIF content record.
type Entry struct {
	DN         string
	Attributes []Attribute
}

// Attribute returns the attribute with the given description, matched
// case-insensitively, or nil.
func (e *Entry) Attribute(name string) *Attribute {
	for i := range e.Attributes {
		if strings.EqualFold(e.Attributes[i].Name, name) {
			return &e.Attributes[i]
		}
	}
	return nil
}

// AttributeCount returns the number of attribute descriptions in the entry.
func (e *Entry) AttributeCount() int {
	return len(e.Attributes)
}

// ValueCount returns the total number of values across all attributes.
func (e *Entry) ValueCount() int {
	n := 0
	for _, attr := range e.Attributes {
		n += len(attr.Values)
	}
	return n
}

// add appends value to the attribute named name, creating it on first use.
func (e *Entry) add(name, value string) {
	if attr := e.Attribute(name); attr != nil {
		attr.Values = append(attr.Values, value)
		return
	}
	e.Attributes = append(e.Attributes, Attribute{Name: name, Values: []string{value}})
}

// LDIF renders the entry back into an LDIF content record.
// Values that are not safe strings are base64 encoded.
func (e *Entry) LDIF() string {
	var b strings.Builder
	writeLine(&b, "dn", e.DN)
	for _, attr := range e.Attributes {
		for _, value := range attr.Values {
			writeLine(&b, attr.Name, value)
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, name, value string) {
	b.WriteString(name)
	if isSafeString(value) {
		b.WriteString(": ")
		b.WriteString(value)
	} else {
		b.WriteString(":: ")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(value)))
	}
	b.WriteByte('\n')
}

// isSafeString reports whether value can be written as an RFC 2849 SAFE-STRING.
func isSafeString(value string) bool {
	if value == "" {
		return true
	}
	if !utf8.ValidString(value) {
		return false
	}
	switch value[0] {
	case ' ', ':', '<':
		return false
	}
	if value[len(value)-1] == ' ' {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == 0 || c == '\n' || c == '\r' || c >= 0x80 {
			return false
		}
	}
	return true
}
