package table

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderSplitsOnFirstTab(t *testing.T) {
	t.Parallel()

	rd := NewReader(strings.NewReader("apple\tu1 u2\nbanana\t\n\ncherry\ta\tb\r\n"))

	row, err := rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "apple", Value: "u1 u2"}, row)

	row, err = rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "banana", Value: ""}, row)

	row, err = rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "cherry", Value: "a\tb"}, row)
	require.Equal(t, 4, rd.Line())

	_, err = rd.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderMalformedRowIsRecoverable(t *testing.T) {
	t.Parallel()

	rd := NewReader(strings.NewReader("no-tab-here\nok\tv\n"))

	_, err := rd.Next()
	require.ErrorIs(t, err, ErrMalformedRow)
	require.Contains(t, err.Error(), "line 1")

	row, err := rd.Next()
	require.NoError(t, err)
	require.Equal(t, "ok", row.Key)
}

func TestReaderSkipsOverlongLine(t *testing.T) {
	t.Parallel()

	in := "apple\tu1\n" + "giant\t" + strings.Repeat("x", 100) + "\nbanana\tu3\r\ntail\tu4"
	rd := newReaderSize(strings.NewReader(in), 32)

	row, err := rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "apple", Value: "u1"}, row)

	_, err = rd.Next()
	require.ErrorIs(t, err, ErrLineTooLong)
	require.ErrorIs(t, err, ErrMalformedRow)
	require.Contains(t, err.Error(), "line 2")

	row, err = rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "banana", Value: "u3"}, row)
	require.Equal(t, 3, rd.Line())

	row, err = rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "tail", Value: "u4"}, row)

	_, err = rd.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderOverlongLineSpanningBuffer(t *testing.T) {
	t.Parallel()

	in := "giant\t" + strings.Repeat("x", 200<<10) + "\nok\tv\n"
	rd := newReaderSize(strings.NewReader(in), 128<<10)

	_, err := rd.Next()
	require.ErrorIs(t, err, ErrLineTooLong)

	row, err := rd.Next()
	require.NoError(t, err)
	require.Equal(t, Row{Key: "ok", Value: "v"}, row)
}

func TestReadKeysIsLenient(t *testing.T) {
	t.Parallel()

	keys, err := ReadKeys(strings.NewReader("https://a\t\nhttps://b\n\n  \t\nhttps://c\textra\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://a", "https://b", "https://c"}, keys)
}

func TestWriteKeysRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteKeys(&buf, []string{"apple", "banana"}))
	require.Equal(t, "apple\t\nbanana\t\n", buf.String())

	keys, err := ReadKeys(&buf)
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "banana"}, keys)
}

func TestWriterRejectsSeparatorInKey(t *testing.T) {
	t.Parallel()

	w := NewWriter(io.Discard)
	require.Error(t, w.Write("bad\tkey", "v"))
	require.Error(t, w.Write("bad\nkey", "v"))
}

func TestWriterRejectsSeparatorInValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.ErrorContains(t, w.Write("apple", "u1\tu2"), "contains a separator")
	require.ErrorContains(t, w.Write("apple", "u1\nbanana\tu2"), "contains a separator")
	require.NoError(t, w.Write("apple", "u1 u2"))
	require.NoError(t, w.Flush())
	require.Equal(t, "apple\tu1 u2\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterSurfacesFlushError(t *testing.T) {
	t.Parallel()

	w := NewWriter(failingWriter{})
	require.NoError(t, w.Write("k", "v"))
	err := w.Flush()
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
}
