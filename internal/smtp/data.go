package smtp

import (
	"bytes"
	"strings"
)

// LineReader reads one line at a time without its terminator.
type LineReader interface {
	ReadLine() (string, error)
}

// ReadData reads a DATA payload up to the line holding a single ".".
// Leading dots are unstuffed and lines are stored with CRLF endings.
//
// Once the payload passes limit bytes, ReadData stops buffering but keeps
// reading to the terminator so the session stays in sync, then returns
// ErrMessageTooLarge. Any other error comes from the transport.
func ReadData(r LineReader, limit int64) ([]byte, error) {
	var (
		buf    bytes.Buffer
		size   int64
		tooBig bool
	)

	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "." {
			break
		}
		line = strings.TrimPrefix(line, ".")

		if tooBig {
			continue
		}
		size += int64(len(line)) + 2
		if limit > 0 && size > limit {
			tooBig = true
			buf = bytes.Buffer{}
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}

	if tooBig {
		return nil, ErrMessageTooLarge
	}
	return buf.Bytes(), nil
}
