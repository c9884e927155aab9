package mcp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrLineTooLong is returned for a line longer than the framer's limit. The
// rest of that line has been discarded and the next call resumes after it.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Framer splits a byte stream into newline-terminated lines. Lines may span
// any number of underlying reads.
type Framer struct {
	r   *bufio.Reader
	max int
}

// NewFramer creates a Framer that rejects lines longer than maxLine bytes.
func NewFramer(r io.Reader, maxLine int) *Framer {
	return &Framer{r: bufio.NewReader(r), max: maxLine}
}

// Next returns the next line without its terminator. A final unterminated
// line is returned before io.EOF.
func (f *Framer) Next() ([]byte, error) {
	var line []byte
	tooLong := false

	for {
		chunk, err := f.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > f.max+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, ErrLineTooLong
			}
			line = trimEOL(line)
			if len(line) > f.max {
				return nil, ErrLineTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, ErrLineTooLong
			}
			if len(line) > 0 {
				line = trimEOL(line)
				if len(line) > f.max {
					return nil, ErrLineTooLong
				}
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
