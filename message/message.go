// Package message implements the pytroll wire envelope: a single-line, textual
// encoding of a subject-addressed, typed, optionally-JSON-bodied record.
package message

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Magic is the fixed string that introduces every wire message and over which
// PUB/SUB prefix filtering is applied.
const Magic = "pytroll:/"

// DefaultVersion is used when encoding a Message that doesn't specify one.
const DefaultVersion = "v1.2"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Mime tokens recognized on the wire.
const (
	MimeText   = "text/ascii"
	MimeJSON   = "application/json"
	MimeBinary = "binary/octet-stream"
)

// Sentinel decode errors, matching spec.md §7.
var (
	ErrInvalidMagic = errors.New("message: missing pytroll magic word")
	ErrBadFormat    = errors.New("message: malformed wire string")
	ErrBadVersion   = errors.New("message: unsupported protocol version")
	ErrBadMime      = errors.New("message: unknown mime type")
	ErrBadJSON      = errors.New("message: invalid JSON body")
)

// DecodeError wraps a sentinel with the offending context, per spec.md §7's
// "ErrBadJSON carries the first 36 bytes of the body" rule.
type DecodeError struct {
	Err     error
	Context string
}

func (e *DecodeError) Error() string {
	if e.Context == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Context)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeError(err error, context string) error {
	return &DecodeError{Err: err, Context: context}
}

// Message is a single pub/sub envelope.
type Message struct {
	Subject  string
	Kind     string
	Sender   string
	Time     time.Time
	Version  string
	MimeType string // "" when the body is empty
	Binary   bool

	// body holds the raw bytes of the text/ascii text, the JSON text or the
	// binary payload. Use JSON()/SetJSON() for the JSON case.
	body []byte
}

// New builds a Message with the given sender and Time filled from the clock,
// and encodes data (when mime is MimeJSON) or stores it verbatim otherwise.
func New(subject, kind string, sender string, mime string, data any) (*Message, error) {
	m := &Message{
		Subject:  subject,
		Kind:     kind,
		Sender:   sender,
		Time:     time.Now(),
		Version:  DefaultVersion,
		MimeType: mime,
	}
	if mime == "" {
		return m, nil
	}
	switch mime {
	case MimeJSON:
		if err := m.SetJSON(data); err != nil {
			return nil, err
		}
	case MimeText:
		s, _ := data.(string)
		m.body = []byte(s)
	case MimeBinary:
		b, _ := data.([]byte)
		m.Binary = true
		m.body = b
	default:
		return nil, newDecodeError(ErrBadMime, mime)
	}
	return m, nil
}

// SetJSON encodes v as the JSON body, honoring the version's timestamp offset rule.
func (m *Message) SetJSON(v any) error {
	enc, err := marshalWithVersion(v, m.versionOrDefault())
	if err != nil {
		return err
	}
	m.MimeType = MimeJSON
	m.body = enc
	return nil
}

// JSON decodes the JSON body into v.
func (m *Message) JSON(v any) error {
	if m.MimeType != MimeJSON {
		return fmt.Errorf("message: body mime is %q, not %s", m.MimeType, MimeJSON)
	}
	if err := json.Unmarshal(m.body, v); err != nil {
		ctx := string(m.body)
		if len(ctx) > 36 {
			ctx = ctx[:36]
		}
		return newDecodeError(ErrBadJSON, ctx)
	}
	return nil
}

// Text returns the text/ascii body, or "" when the mime isn't text.
func (m *Message) Text() string {
	if m.MimeType != MimeText {
		return ""
	}
	return string(m.body)
}

// Bytes returns the raw bytes of a binary/octet-stream body.
func (m *Message) Bytes() []byte {
	if m.MimeType != MimeBinary {
		return nil
	}
	return m.body
}

func (m *Message) versionOrDefault() string {
	if m.Version == "" {
		return DefaultVersion
	}
	return m.Version
}

// User returns the local part of Sender ("user@host"), or "" if malformed.
func (m *Message) User() string {
	if i := strings.IndexByte(m.Sender, '@'); i >= 0 {
		return m.Sender[:i]
	}
	return ""
}

// Host returns the host part of Sender ("user@host"), or "" if malformed.
func (m *Message) Host() string {
	if i := strings.IndexByte(m.Sender, '@'); i >= 0 {
		return m.Sender[i+1:]
	}
	return ""
}

// Encode renders the Message to its single-line wire form.
func (m *Message) Encode() (string, error) {
	if m.Subject == "" || m.Kind == "" || m.Sender == "" {
		return "", fmt.Errorf("message: subject, kind and sender must be non-empty")
	}
	version := m.versionOrDefault()
	ts := formatTime(m.Time, version)

	var b strings.Builder
	b.WriteString(Magic)
	b.WriteString(m.Subject)
	b.WriteByte(' ')
	b.WriteString(m.Kind)
	b.WriteByte(' ')
	b.WriteString(m.Sender)
	b.WriteByte(' ')
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(version)

	if m.MimeType != "" && len(m.body) > 0 {
		b.WriteByte(' ')
		b.WriteString(m.MimeType)
		b.WriteByte(' ')
		b.Write(m.body)
	}

	return b.String(), nil
}

// Decode parses a wire string into a Message.
func Decode(raw string) (*Message, error) {
	if !strings.HasPrefix(raw, Magic) {
		return nil, ErrInvalidMagic
	}
	rest := raw[len(Magic):]

	// Split into at most 7 fields: subject, kind, sender, time, version, mime, body.
	// The body (7th field) must never itself be split on whitespace.
	fields := splitN(rest, 6)
	if len(fields) < 5 {
		ctx := rest
		if len(ctx) > 36 {
			ctx = ctx[:36]
		}
		return nil, newDecodeError(ErrBadFormat, ctx)
	}

	version := fields[4]
	if !versionAccepted(version) {
		return nil, newDecodeError(ErrBadVersion, version)
	}

	ts, err := parseTime(fields[3])
	if err != nil {
		return nil, newDecodeError(ErrBadFormat, fields[3])
	}

	m := &Message{
		Subject: fields[0],
		Kind:    fields[1],
		Sender:  fields[2],
		Time:    ts,
		Version: version,
	}

	if len(fields) < 6 {
		return m, nil
	}

	mime := fields[5]
	var body string
	if len(fields) >= 7 {
		body = fields[6]
	}

	switch mime {
	case MimeText:
		m.MimeType = MimeText
		m.body = []byte(body)
	case MimeJSON:
		m.MimeType = MimeJSON
		m.body = []byte(body)
		var probe any
		if err := json.Unmarshal(m.body, &probe); err != nil {
			ctx := body
			if len(ctx) > 36 {
				ctx = ctx[:36]
			}
			return nil, newDecodeError(ErrBadJSON, ctx)
		}
	case MimeBinary:
		m.MimeType = MimeBinary
		m.Binary = true
		m.body = []byte(body)
	default:
		return nil, newDecodeError(ErrBadMime, mime)
	}

	return m, nil
}

// versionAccepted reports whether version is <= the process's advertised
// version, per spec.md §6 ("decoder accepts versions <= advertised").
func versionAccepted(version string) bool {
	if version == "" {
		return false
	}
	return version <= DefaultVersion
}

// splitN splits s on runs of whitespace into at most n+1 fields, the last of
// which is never split further: its leading whitespace is dropped, its inner
// and trailing whitespace is kept verbatim.
func splitN(s string, n int) []string {
	fields := make([]string, 0, n+1)
	rest := s
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return fields
		}
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			fields = append(fields, rest)
			return fields
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx+1:]
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest != "" {
		fields = append(fields, rest)
	}
	return fields
}
