package ldif

import (
	"encoding/base64"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
)

const (
	// GUIDBytesLength is the size of a binary objectGUID value.
	GUIDBytesLength = 16

	// minSIDBytesLength covers revision, sub-authority count and the
	// six byte identifier authority.
	minSIDBytesLength = 8
)

// redactedAttributes never have their values rendered in logs.
var redactedAttributes = map[string]bool{
	"userpassword":            true,
	"unicodepwd":              true,
	"authpassword":            true,
	"sambantpassword":         true,
	"sambalmpassword":         true,
	"krbprincipalkey":         true,
	"userpkcs12":              true,
	"supplementalcredentials": true,
}

// Describe returns a log-friendly view of the entry. Binary Active Directory
// identifiers are rendered in their string form and credential attributes
// are redacted.
func (e *Entry) Describe() map[string]any {
	attrs := make(map[string]any, len(e.Attributes))
	for _, attr := range e.Attributes {
		values := make([]string, 0, len(attr.Values))
		for _, value := range attr.Values {
			values = append(values, describeValue(attr.Name, value))
		}
		attrs[attr.Name] = values
	}

	return map[string]any{
		"dn":         e.DN,
		"attributes": attrs,
	}
}

// describeValue renders a single attribute value for logging.
func describeValue(name, value string) string {
	base := strings.ToLower(baseName(name))

	if redactedAttributes[base] {
		return "[REDACTED]"
	}

	switch base {
	case "objectsid":
		if sid, ok := sidString([]byte(value)); ok {
			return sid
		}
	case "objectguid":
		if guid, ok := guidString([]byte(value)); ok {
			return guid
		}
	}

	if !isPrintable(value) {
		return "base64:" + base64.StdEncoding.EncodeToString([]byte(value))
	}
	return value
}

// isPrintable reports whether value is valid UTF-8 made only of printable
// runes. Unlike LDIF output, log fields may carry non-ASCII text as is.
func isPrintable(value string) bool {
	if !utf8.ValidString(value) {
		return false
	}
	for _, r := range value {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Redacted returns a copy of the entry with credential values replaced by
// [REDACTED], suitable for rendering with LDIF in logs.
func (e *Entry) Redacted() *Entry {
	out := &Entry{DN: e.DN, Attributes: make([]Attribute, len(e.Attributes))}
	for i, attr := range e.Attributes {
		values := attr.Values
		if redactedAttributes[strings.ToLower(baseName(attr.Name))] {
			values = make([]string, len(attr.Values))
			for j := range values {
				values[j] = "[REDACTED]"
			}
		}
		out.Attributes[i] = Attribute{Name: attr.Name, Values: values}
	}
	return out
}

// sidString decodes a binary objectSid into S-1-5-21-... form.
func sidString(b []byte) (string, bool) {
	if len(b) < minSIDBytesLength || b[0] != 1 {
		return "", false
	}
	// Sub-authority count must match the remaining bytes.
	if len(b) != minSIDBytesLength+int(b[1])*4 {
		return "", false
	}
	sid := objectsid.Decode(b)
	return sid.String(), true
}

// guidString converts an Active Directory mixed-endian GUID to its
// canonical string form. Data1, Data2 and Data3 are little-endian on the
// wire; Data4 is big-endian.
func guidString(b []byte) (string, bool) {
	if len(b) != GUIDBytesLength {
		return "", false
	}

	canonical := make([]byte, GUIDBytesLength)
	canonical[0], canonical[1], canonical[2], canonical[3] = b[3], b[2], b[1], b[0]
	canonical[4], canonical[5] = b[5], b[4]
	canonical[6], canonical[7] = b[7], b[6]
	copy(canonical[8:], b[8:])

	id, err := uuid.FromBytes(canonical)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// baseName strips attribute options, e.g. "cn;lang-en" becomes "cn".
func baseName(description string) string {
	if i := strings.IndexByte(description, ';'); i >= 0 {
		return description[:i]
	}
	return description
}
