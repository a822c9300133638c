// Package trace reads captured session traces for replay.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Direction tags a trace record. The tag character doubles as the field
// separator on disk.
type Direction byte

const (
	Invalid  Direction = 0
	Event    Direction = '~'
	Incoming Direction = '>'
	Outgoing Direction = '<'
)

func (d Direction) String() string {
	switch d {
	case Event:
		return "event"
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	default:
		return "invalid"
	}
}

// ErrMalformedRecord is wrapped by errors for lines that cannot be parsed.
var ErrMalformedRecord = errors.New("trace: malformed record")

// Record is one logged event from a captured session.
type Record struct {
	Direction   Direction
	TimestampNs int64
	PID         int
	SessionID   string
	Payload     string
}

// Reader yields records in capture order. Next returns a record with
// direction Invalid once the input is exhausted.
type Reader interface {
	Epoch() int64
	Next() (Record, error)
}

// ParseRecord decodes one line of the form
// <d><timestamp><d><pid><d><session><d><payload>.
func ParseRecord(line string) (Record, error) {
	if len(line) < 2 {
		return Record{}, ErrMalformedRecord
	}

	dir := Direction(line[0])
	switch dir {
	case Event, Incoming, Outgoing:
	default:
		return Record{}, fmt.Errorf("%w: unknown direction %q", ErrMalformedRecord, line[0])
	}

	fields := strings.SplitN(line[1:], string(line[0]), 4)
	if len(fields) != 4 {
		return Record{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedRecord, len(fields))
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRecord, fields[0])
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: pid %q", ErrMalformedRecord, fields[1])
	}

	return Record{
		Direction:   dir,
		TimestampNs: ts,
		PID:         pid,
		SessionID:   fields[2],
		Payload:     fields[3],
	}, nil
}

// Format encodes r in the on-disk line format, without the newline.
func (r Record) Format() string {
	d := string(r.Direction)
	return d + strconv.FormatInt(r.TimestampNs, 10) + d + strconv.Itoa(r.PID) + d + r.SessionID + d + r.Payload
}

// StreamReader parses records lazily from a byte stream.
type StreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	epoch   int64
	pending *Record
	done    bool
}

// NewStreamReader reads the first record to establish the epoch. closer,
// when not nil, is released by Close.
func NewStreamReader(r io.Reader, closer io.Closer) (*StreamReader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	s := &StreamReader{scanner: sc, closer: closer}
	first, err := s.scan()
	if err != nil {
		return nil, err
	}
	if first.Direction != Invalid {
		s.epoch = first.TimestampNs
		s.pending = &first
	}
	return s, nil
}

// Epoch is the timestamp of the first record, or zero for an empty trace.
func (s *StreamReader) Epoch() int64 { return s.epoch }

// Next returns the next record.
func (s *StreamReader) Next() (Record, error) {
	if s.pending != nil {
		rec := *s.pending
		s.pending = nil
		return rec, nil
	}
	return s.scan()
}

func (s *StreamReader) scan() (Record, error) {
	if s.done {
		return Record{}, nil
	}
	for s.scanner.Scan() {
		s.line++
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return Record{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return rec, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("trace: read: %w", err)
	}
	return Record{}, nil
}

// Close releases the underlying source.
func (s *StreamReader) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
