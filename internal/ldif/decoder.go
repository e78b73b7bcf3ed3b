package ldif

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	// DefaultMaxLineLength bounds a single physical line, in bytes.
	DefaultMaxLineLength = 1 << 20

	subsystem = "ldif"
)

// attributeDescriptionRegex matches a descriptor or numeric OID followed by options.
var attributeDescriptionRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*|[0-9]+(\.[0-9]+)*)(;[A-Za-z0-9-]+)*$`)

// errVersionOnly marks a record that held nothing but the version line.
var errVersionOnly = errors.New("version-only record")

// URLResolver returns the content referenced by a "name:< url" value.
type URLResolver func(rawURL string) ([]byte, error)

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxLineLength overrides DefaultMaxLineLength.
func WithMaxLineLength(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLineLength = n
		}
	}
}

// WithURLResolver replaces the default file:// resolver for "name:< url" values.
func WithURLResolver(resolver URLResolver) Option {
	return func(d *Decoder) {
		if resolver != nil {
			d.resolveURL = resolver
		}
	}
}

// WithName sets the source name used in errors and log fields.
func WithName(name string) Option {
	return func(d *Decoder) {
		d.name = name
	}
}

// WithContext sets the context used for logging.
func WithContext(ctx context.Context) Option {
	return func(d *Decoder) {
		if ctx != nil {
			d.ctx = ctx
		}
	}
}

// Decoder reads LDIF content records one at a time.
//
// A Decoder is not safe for concurrent use. All parsing state lives on the
// Decoder itself, so independent runs never share buffers.
type Decoder struct {
	name          string
	src           io.Closer
	r             *bufio.Reader
	ctx           context.Context
	maxLineLength int
	resolveURL    URLResolver

	line           int   // physical lines consumed so far
	records        int   // entries returned so far
	versionChecked bool  // the leading version line has been looked for
	err            error // sticky terminal state: io.EOF or a fatal DecodeError
	closed         bool
	closeErr       error
}

// Open opens the LDIF file at path. The returned Decoder owns the file
// handle until Close is called. Anything other than a regular file is
// rejected here rather than on the first read.
func Open(path string, opts ...Option) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	info, err := f.Stat()
	switch {
	case err != nil:
	case info.IsDir():
		err = errors.New("is a directory")
	case !info.Mode().IsRegular():
		err = errors.New("not a regular file")
	}
	if err != nil {
		_ = f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}

	return NewDecoder(f, append([]Option{WithName(path)}, opts...)...), nil
}

// NewDecoder returns a Decoder reading from src. Close releases src.
func NewDecoder(src io.ReadCloser, opts ...Option) *Decoder {
	d := &Decoder{
		name:          "<stream>",
		src:           src,
		ctx:           context.Background(),
		maxLineLength: DefaultMaxLineLength,
		resolveURL:    resolveFileURL,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.r = bufio.NewReader(src)

	return d
}

// Name returns the source name.
func (d *Decoder) Name() string {
	return d.name
}

// Next decodes the next entry.
//
// It returns io.EOF once the stream is exhausted. A *DecodeError reports a
// malformed record; when MayContinue is true the record has been skipped
// and Next may be called again, otherwise the decoder stays failed and
// every later call returns the same error.
func (d *Decoder) Next() (*Entry, error) {
	if d.err != nil {
		return nil, d.err
	}

	if d.closed {
		d.err = d.fatal(d.line, "decoder is closed", nil)
		return nil, d.err
	}

	for {
		rec, err := d.readRecord()
		if err != nil {
			d.err = err
			if err == io.EOF {
				tflog.SubsystemDebug(d.ctx, subsystem, "All LDIF records have been read", map[string]any{
					"source":  d.name,
					"records": d.records,
					"lines":   d.line,
				})
			} else {
				tflog.SubsystemError(d.ctx, subsystem, "LDIF source cannot be read any further", map[string]any{
					"source": d.name,
					"error":  err.Error(),
				})
			}
			return nil, err
		}

		entry, err := d.parseRecord(rec)
		if errors.Is(err, errVersionOnly) {
			continue
		}
		if err != nil {
			fields := map[string]any{
				"source": d.name,
				"line":   rec.start,
				"error":  err.Error(),
			}
			if Classify(err) == OutcomeFatal {
				d.err = err
				tflog.SubsystemError(d.ctx, subsystem, "Fatal LDIF record error", fields)
			} else {
				tflog.SubsystemWarn(d.ctx, subsystem, "Skipping malformed LDIF record", fields)
			}
			return nil, err
		}

		d.records++
		tflog.SubsystemTrace(d.ctx, subsystem, "Decoded LDIF record", map[string]any{
			"source":     d.name,
			"line":       rec.start,
			"dn":         entry.DN,
			"attributes": entry.AttributeCount(),
		})

		return entry, nil
	}
}

// Close releases the underlying source. It is safe to call more than once;
// calls after the first return nil.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.src != nil {
		d.closeErr = d.src.Close()
	}

	tflog.SubsystemTrace(d.ctx, subsystem, "LDIF source closed", map[string]any{
		"source": d.name,
	})

	return d.closeErr
}

// logicalLine is one unfolded line of a record.
type logicalLine struct {
	text    string
	line    int
	comment bool
}

// rawRecord is the unfolded content of one record, before parsing.
type rawRecord struct {
	start      int
	lines      []logicalLine
	orphanLine int // line of a continuation with nothing to continue, 0 if none
}

func (r *rawRecord) commentOnly() bool {
	if r.orphanLine != 0 {
		return false
	}
	for _, l := range r.lines {
		if !l.comment {
			return false
		}
	}
	return true
}

func (r *rawRecord) content() []logicalLine {
	lines := make([]logicalLine, 0, len(r.lines))
	for _, l := range r.lines {
		if !l.comment {
			lines = append(lines, l)
		}
	}
	return lines
}

// readRecord collects the lines of the next record, unfolding continuation
// lines. Records made only of comments are skipped.
func (d *Decoder) readRecord() (*rawRecord, error) {
	var rec *rawRecord

	for {
		text, err := d.readPhysicalLine()
		if err != nil {
			if errors.Is(err, io.EOF) && rec != nil && !rec.commentOnly() {
				return rec, nil
			}
			return nil, err
		}

		if text == "" {
			if rec == nil || rec.commentOnly() {
				rec = nil
				continue
			}
			return rec, nil
		}

		if rec == nil {
			rec = &rawRecord{start: d.line}
		}

		if text[0] == ' ' {
			if len(rec.lines) == 0 {
				if rec.orphanLine == 0 {
					rec.orphanLine = d.line
				}
				continue
			}
			last := &rec.lines[len(rec.lines)-1]
			if !last.comment {
				last.text += text[1:]
			}
			continue
		}

		rec.lines = append(rec.lines, logicalLine{
			text:    text,
			line:    d.line,
			comment: text[0] == '#',
		})
	}
}

// readPhysicalLine returns the next line without its line terminator.
func (d *Decoder) readPhysicalLine() (string, error) {
	var buf []byte

	for {
		chunk, err := d.r.ReadSlice('\n')
		buf = append(buf, chunk...)

		// The buffer may still hold a CRLF terminator.
		if len(buf) > d.maxLineLength+2 {
			return "", d.lineTooLong(d.line + 1)
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) == 0:
			return "", io.EOF
		case err == nil, errors.Is(err, io.EOF):
			d.line++
			line := trimEOL(buf)
			if len(line) > d.maxLineLength {
				return "", d.lineTooLong(d.line)
			}
			return line, nil
		default:
			return "", d.fatal(d.line+1, "error reading LDIF source", err)
		}
	}
}

func (d *Decoder) lineTooLong(line int) error {
	return d.fatal(line, fmt.Sprintf("line exceeds maximum length of %d bytes", d.maxLineLength), nil)
}

func trimEOL(b []byte) string {
	s := string(b)
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// parseRecord turns an unfolded record into an Entry.
func (d *Decoder) parseRecord(rec *rawRecord) (*Entry, error) {
	if rec.orphanLine != 0 {
		return nil, d.recoverable(rec.orphanLine, "continuation line does not follow an attribute line", nil)
	}

	lines := rec.content()

	if !d.versionChecked {
		d.versionChecked = true
		if len(lines) > 0 && isVersionLine(lines[0].text) {
			if err := d.checkVersion(lines[0]); err != nil {
				return nil, err
			}
			lines = lines[1:]
			if len(lines) == 0 {
				return nil, errVersionOnly
			}
		}
	}

	if len(lines) == 0 {
		return nil, d.recoverable(rec.start, "record has no content", nil)
	}

	first := lines[0]
	name, dn, err := d.parseLine(first)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(name, "dn") {
		return nil, d.recoverable(first.line, fmt.Sprintf("record must begin with a dn line, found %q", name), nil)
	}

	if strings.TrimSpace(dn) == "" {
		return nil, d.recoverable(first.line, "record has an empty DN", nil)
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return nil, d.recoverable(first.line, fmt.Sprintf("invalid DN syntax %q", dn), err)
	}

	entry := &Entry{DN: dn}
	for _, l := range lines[1:] {
		name, value, err := d.parseLine(l)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(name) {
		case "control":
			continue
		case "changetype":
			if !strings.EqualFold(strings.TrimSpace(value), "add") {
				return nil, d.recoverable(l.line, fmt.Sprintf("unsupported changetype %q: only add records can be imported", value), nil)
			}
			continue
		}

		entry.add(name, value)
	}

	if len(entry.Attributes) == 0 {
		return nil, d.recoverable(rec.start, fmt.Sprintf("entry %q has no attributes", dn), nil)
	}

	return entry, nil
}

func isVersionLine(text string) bool {
	name, _, found := strings.Cut(text, ":")
	return found && strings.EqualFold(name, "version")
}

func (d *Decoder) checkVersion(l logicalLine) error {
	_, value, _ := strings.Cut(l.text, ":")
	if strings.TrimSpace(value) != "1" {
		return d.fatal(l.line, fmt.Sprintf("unsupported LDIF version %q", strings.TrimSpace(value)), nil)
	}
	return nil
}

// parseLine splits an attribute line and decodes its value.
func (d *Decoder) parseLine(l logicalLine) (string, string, error) {
	name, rest, found := strings.Cut(l.text, ":")
	if !found || name == "" {
		return "", "", d.recoverable(l.line, "missing attribute separator ':'", nil)
	}

	if !attributeDescriptionRegex.MatchString(name) {
		return "", "", d.recoverable(l.line, fmt.Sprintf("invalid attribute description %q", name), nil)
	}

	switch {
	case strings.HasPrefix(rest, ":"):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest[1:]))
		if err != nil {
			return "", "", d.recoverable(l.line, fmt.Sprintf("invalid base64 value for attribute %q", name), err)
		}
		return name, string(decoded), nil

	case strings.HasPrefix(rest, "<"):
		ref := strings.TrimSpace(rest[1:])
		data, err := d.resolveURL(ref)
		if err != nil {
			return "", "", d.recoverable(l.line, fmt.Sprintf("cannot read value of attribute %q from %s", name, ref), err)
		}
		return name, string(data), nil

	default:
		return name, strings.TrimLeft(rest, " "), nil
	}
}

func (d *Decoder) recoverable(line int, msg string, cause error) error {
	return &DecodeError{Source: d.name, Line: line, Message: msg, Recoverable: true, Cause: cause}
}

func (d *Decoder) fatal(line int, msg string, cause error) error {
	return &DecodeError{Source: d.name, Line: line, Message: msg, Recoverable: false, Cause: cause}
}

// resolveFileURL reads file:// references. Other schemes are rejected.
func resolveFileURL(rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "file" {
		return nil, fmt.Errorf("unsupported URL scheme %q, only file:// is supported", u.Scheme)
	}

	return os.ReadFile(u.Path)
}
