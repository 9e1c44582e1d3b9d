// Package table reads and writes the line-oriented, tab-delimited row format
// shared by URL lists, vocabularies and postings files.
package table

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedRow reports a line that does not contain a key/value separator.
var ErrMalformedRow = errors.New("malformed row")

// ErrLineTooLong reports a line longer than the reader's limit. It wraps
// ErrMalformedRow so callers skipping malformed rows skip these too.
var ErrLineTooLong = fmt.Errorf("%w: line too long", ErrMalformedRow)

// maxLineBytes bounds a single row; postings rows for common terms can be long.
const maxLineBytes = 16 << 20

// Row is one key/value pair. Value is everything after the first tab.
type Row struct {
	Key   string
	Value string
}

// Reader yields rows from an underlying stream one line at a time.
type Reader struct {
	br      *bufio.Reader
	line    int
	text    string
	maxLine int
}

// NewReader wraps r in a row Reader.
func NewReader(r io.Reader) *Reader {
	return newReaderSize(r, maxLineBytes)
}

func newReaderSize(r io.Reader, maxLine int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), maxLine: maxLine}
}

// Line returns the 1-based number of the most recently read line.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next row. Blank lines are skipped. A line without a tab,
// or one longer than the limit, returns an error wrapping ErrMalformedRow; the
// reader stays usable after it. io.EOF is returned once the stream is
// exhausted.
func (r *Reader) Next() (Row, error) {
	for {
		text, tooLong, err := r.readLine()
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		if err != nil {
			return Row{}, fmt.Errorf("read line %d: %w", r.line+1, err)
		}
		r.line++
		r.text = text
		if tooLong {
			return Row{}, fmt.Errorf("line %d: %w", r.line, ErrLineTooLong)
		}
		if text == "" {
			continue
		}
		key, value, ok := strings.Cut(text, "\t")
		if !ok {
			return Row{}, fmt.Errorf("line %d: %w", r.line, ErrMalformedRow)
		}
		return Row{Key: key, Value: value}, nil
	}
}

// readLine returns the next line without its terminator. Bytes past maxLine
// are drained and dropped, and tooLong is set. io.EOF means no bytes remained.
func (r *Reader) readLine() (string, bool, error) {
	var buf []byte
	read, tooLong := 0, false
	for {
		chunk, err := r.br.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			if len(buf)+len(chunk) > r.maxLine {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return "", false, io.EOF
			}
		case err != nil:
			return "", false, err
		}
		if tooLong {
			return "", true, nil
		}
		return strings.TrimRight(string(buf), "\r\n"), false, nil
	}
}

// ReadKeys collects the key column of a keys-only file (`<key>\t` per line).
// A line with no tab is taken whole as the key; blank keys and over-long
// lines are skipped.
func ReadKeys(r io.Reader) ([]string, error) {
	rd := NewReader(r)
	var keys []string
	for {
		row, err := rd.Next()
		switch {
		case errors.Is(err, io.EOF):
			return keys, nil
		case errors.Is(err, ErrMalformedRow):
			row.Key = strings.TrimSpace(rd.text)
		case err != nil:
			return nil, err
		}
		if key := strings.TrimSpace(row.Key); key != "" {
			keys = append(keys, key)
		}
	}
}

// Writer emits rows, buffering output until Flush.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w in a row Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write emits `key\tvalue\n`.
func (w *Writer) Write(key, value string) error {
	if strings.ContainsAny(key, "\t\n") {
		return fmt.Errorf("write row: key %q contains a separator", key)
	}
	if strings.ContainsAny(value, "\t\n") {
		return fmt.Errorf("write row: value for %q contains a separator", key)
	}
	if _, err := w.w.WriteString(key); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := w.w.WriteByte('\t'); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if _, err := w.w.WriteString(value); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// Flush writes any buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return nil
}

// WriteKeys writes each key as a keys-only row and flushes.
func WriteKeys(w io.Writer, keys []string) error {
	tw := NewWriter(w)
	for _, key := range keys {
		if err := tw.Write(key, ""); err != nil {
			return err
		}
	}
	return tw.Flush()
}
