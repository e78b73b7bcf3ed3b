package ldif

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_Add(t *testing.T) {
	e := &Entry{DN: "cn=a,dc=example,dc=com"}
	e.add("objectClass", "top")
	e.add("cn", "a")
	e.add("objectclass", "person")

	require.Len(t, e.Attributes, 2)
	assert.Equal(t, "objectClass", e.Attributes[0].Name)
	assert.Equal(t, []string{"top", "person"}, e.Attributes[0].Values)
	assert.Equal(t, 2, e.AttributeCount())
	assert.Equal(t, 3, e.ValueCount())
	assert.Nil(t, e.Attribute("sn"))
}

func TestEntry_LDIF(t *testing.T) {
	e := &Entry{
		DN: "cn=a,dc=example,dc=com",
		Attributes: []Attribute{
			{Name: "cn", Values: []string{"a"}},
			{Name: "description", Values: []string{" leading space", "naïve"}},
		},
	}

	got := e.LDIF()
	want := "dn: cn=a,dc=example,dc=com\n" +
		"cn: a\n" +
		"description:: IGxlYWRpbmcgc3BhY2U=\n" +
		"description:: bmHDr3Zl\n"
	assert.Equal(t, want, got)

	// The rendered record decodes back to the same entry.
	d, _ := newTestDecoder(got)
	decoded, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestIsSafeString(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"plain value", true},
		{" leading space", false},
		{"trailing space ", false},
		{":colon", false},
		{"<angle", false},
		{"line\nbreak", false},
		{"caf\xc3\xa9", false},
		{"\xff\xfe", false},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.value, "\n", `\n`), func(t *testing.T) {
			if got := isSafeString(tt.value); got != tt.want {
				t.Errorf("isSafeString(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEntry_Describe(t *testing.T) {
	// S-1-5-21-1-2-3-500
	sid := []byte{
		0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
		0xf4, 0x01, 0x00, 0x00,
	}
	// 01020304-0506-0708-090a-0b0c0d0e0f10 in Active Directory byte order.
	guid := []byte{
		0x04, 0x03, 0x02, 0x01, 0x06, 0x05, 0x08, 0x07,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	e := &Entry{
		DN: "cn=a,dc=example,dc=com",
		Attributes: []Attribute{
			{Name: "cn", Values: []string{"a"}},
			{Name: "objectSid", Values: []string{string(sid)}},
			{Name: "objectGUID", Values: []string{string(guid)}},
			{Name: "userPassword", Values: []string{"secret"}},
			{Name: "unicodePwd;binary", Values: []string{"secret"}},
			{Name: "jpegPhoto", Values: []string{"\xff\xd8"}},
		},
	}

	got := e.Describe()
	assert.Equal(t, "cn=a,dc=example,dc=com", got["dn"])

	attrs, ok := got["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, attrs["cn"])
	assert.Equal(t, []string{"S-1-5-21-1-2-3-500"}, attrs["objectSid"])
	assert.Equal(t, []string{"01020304-0506-0708-090a-0b0c0d0e0f10"}, attrs["objectGUID"])
	assert.Equal(t, []string{"[REDACTED]"}, attrs["userPassword"])
	assert.Equal(t, []string{"[REDACTED]"}, attrs["unicodePwd;binary"])
	assert.Equal(t, []string{"base64:/9g="}, attrs["jpegPhoto"])
}

func TestDescribeValue_MalformedIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		attr  string
		value string
		want  string
	}{
		{name: "short sid", attr: "objectSid", value: "\x01\x05", want: "base64:AQU="},
		{name: "short guid", attr: "objectGUID", value: "abc", want: "abc"},
		{name: "text sid", attr: "objectSid", value: "S-1-5-32-544", want: "S-1-5-32-544"},
		{name: "control characters", attr: "description", value: "a\tb\x00", want: "base64:YQliAA=="},
		{name: "non-ascii text", attr: "description", value: "naïve", want: "naïve"},
		{name: "invalid utf-8", attr: "description", value: "\xff", want: "base64:/w=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeValue(tt.attr, tt.value))
		})
	}
}

func TestEntry_Redacted(t *testing.T) {
	e := &Entry{
		DN: "cn=a,dc=example,dc=com",
		Attributes: []Attribute{
			{Name: "cn", Values: []string{"a"}},
			{Name: "userPassword", Values: []string{"hunter2", "{SSHA}abc"}},
			{Name: "unicodePwd;binary", Values: []string{"\x00s\x00"}},
		},
	}

	got := e.Redacted().LDIF()

	assert.Equal(t, "dn: cn=a,dc=example,dc=com\n"+
		"cn: a\n"+
		"userPassword: [REDACTED]\n"+
		"userPassword: [REDACTED]\n"+
		"unicodePwd;binary: [REDACTED]\n", got)
	assert.Equal(t, []string{"hunter2", "{SSHA}abc"}, e.Attributes[1].Values, "original entry is untouched")
}
