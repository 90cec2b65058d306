package events

import (
	"bufio"
	"bytes"
	"io"
)

// MaxRecordSize bounds a single record. borg list --json of a large repository is one document.
const MaxRecordSize = 64 << 20

// Record is an event tagged with its position in its channel.
type Record struct {
	Seq   int
	Event Event
	Route Route
}

// Scan reads back to back JSON documents from r and calls fn for each, in order, with sequence numbers
// starting at 1. Documents need no separator. Lines that are not JSON are reported as Text events.
func Scan(r io.Reader, fn func(Record)) error {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxRecordSize)
	s.Split(splitValues)

	seq := 0
	for s.Scan() {
		tok := s.Bytes()
		var ev Event = Text{Line: string(tok)}
		if tok[0] == '{' || tok[0] == '[' {
			if decoded, err := Decode(tok); err == nil {
				ev = decoded
			}
		}
		seq++
		fn(Record{Seq: seq, Event: ev, Route: Classify(ev)})
	}
	return s.Err()
}

// splitValues is a bufio.SplitFunc yielding one JSON object or array, or one text line, per token.
func splitValues(data []byte, atEOF bool) (int, []byte, error) {
	start := 0
	for start < len(data) && isSpace(data[start]) {
		start++
	}
	if start == len(data) {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	if c := data[start]; c == '{' || c == '[' {
		if end := valueEnd(data[start:]); end > 0 {
			return start + end, data[start : start+end], nil
		}
	} else if i := bytes.IndexByte(data[start:], '\n'); i >= 0 {
		return start + i + 1, bytes.TrimRight(data[start:start+i], "\r"), nil
	}

	if atEOF {
		return len(data), bytes.TrimRight(data[start:], "\r\n"), nil
	}
	return start, nil, nil
}

// valueEnd returns the length of the balanced JSON value at the start of data, or 0 when it is incomplete.
func valueEnd(data []byte) int {
	depth := 0
	inString := false
	escaped := false
	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
