package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripText(t *testing.T) {
	m, err := New("/DC/juhu", "info", "henry@prodsat", MimeText, "jhuuuu !!!")
	require.NoError(t, err)
	m.Version = "v1.2"
	m.Time = time.Date(2010, 12, 1, 12, 21, 11, 123000000, time.UTC)

	encoded, err := m.Encode()
	require.NoError(t, err)
	require.Equal(t, "pytroll://DC/juhu info henry@prodsat 2010-12-01T12:21:11.123000+00:00 v1.2 text/ascii jhuuuu !!!", encoded)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, m.Subject, decoded.Subject)
	require.Equal(t, m.Kind, decoded.Kind)
	require.Equal(t, m.Sender, decoded.Sender)
	require.Equal(t, m.Version, decoded.Version)
	require.Equal(t, "jhuuuu !!!", decoded.Text())
}

func TestEncodeDecodeRoundTripJSON(t *testing.T) {
	data := map[string]any{"URI": "tcp://127.0.0.1:40000", "service": []any{"a", "b"}}
	m, err := New("/address/svc", "info", "u@h", MimeJSON, data)
	require.NoError(t, err)

	encoded, err := m.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, decoded.JSON(&out))
	require.Equal(t, "tcp://127.0.0.1:40000", out["URI"])
}

func TestVersionOffsetStripping(t *testing.T) {
	ts := time.Date(2021, 5, 4, 10, 0, 0, 0, time.UTC)

	m1, err := New("/a", "info", "u@h", MimeJSON, map[string]any{"t": ts})
	require.NoError(t, err)
	m1.Version = "v1.01"
	m1.Time = ts
	e1, err := m1.Encode()
	require.NoError(t, err)
	require.NotContains(t, e1, "+00:00")

	m2, err := New("/a", "info", "u@h", MimeJSON, map[string]any{"t": ts})
	require.NoError(t, err)
	m2.Version = "v1.2"
	m2.Time = ts
	e2, err := m2.Encode()
	require.NoError(t, err)
	require.Contains(t, e2, "+00:00")
}

func TestDecodeRejectsMissingMagic(t *testing.T) {
	_, err := Decode("not-a-pytroll-message")
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeRejectsShortFormat(t *testing.T) {
	_, err := Decode(Magic + "/a info")
	require.ErrorIs(t, err, ErrBadFormat)
}

func TestDecodeRejectsUnknownMime(t *testing.T) {
	_, err := Decode(Magic + "/a info u@h 2021-05-04T10:00:00.000000+00:00 v1.2 image/png xx")
	require.ErrorIs(t, err, ErrBadMime)
}

func TestDecodeRejectsBadJSON(t *testing.T) {
	_, err := Decode(Magic + "/a info u@h 2021-05-04T10:00:00.000000+00:00 v1.2 application/json {not json")
	require.ErrorIs(t, err, ErrBadJSON)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, err := Decode(Magic + "/a info u@h 2021-05-04T10:00:00.000000+00:00 v9.9")
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestBodyNeverSplitOnSpaces(t *testing.T) {
	m, err := New("/a", "info", "u@h", MimeText, "hello world with spaces")
	require.NoError(t, err)
	encoded, err := m.Encode()
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "hello world with spaces", decoded.Text())
}

func TestSubjectPrefixMatchesMagicPlusSubject(t *testing.T) {
	m, err := New("/oper/ns", "info", "u@h", "", nil)
	require.NoError(t, err)
	encoded, err := m.Encode()
	require.NoError(t, err)
	require.Equal(t, "pytroll://oper/ns", encoded[:len("pytroll://oper/ns")])
}
