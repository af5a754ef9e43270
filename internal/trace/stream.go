package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/logger"
)

var log = logger.WithPrefix("trace")

// WriteRecord writes r with its length prefix.
func WriteRecord(w io.Writer, r Record) error {
	data := Marshal(r)
	if len(data) > maxRecordSize {
		return fmt.Errorf("record %d is %d bytes: %w", r.Seq, len(data), ErrRecordTooLarge)
	}

	// Write length prefix (4 bytes, big-endian)
	length := len(data)
	lengthBuf := []byte{
		byte(length >> 24),
		byte(length >> 16),
		byte(length >> 8),
		byte(length),
	}
	if _, err := w.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if flusher, ok := w.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}
	return nil
}

// Recorder is a Deliverer that writes every delivery to a trace before
// passing it on. A write error stops recording; deliveries still go
// through.
type Recorder struct {
	w    io.Writer
	next input.Deliverer
	seq  uint64
	err  error
}

// NewRecorder records to w and forwards to next, which may be nil.
func NewRecorder(w io.Writer, next input.Deliverer) *Recorder {
	return &Recorder{w: w, next: next}
}

func (r *Recorder) Deliver(d input.Delivery) {
	r.seq++
	if r.err == nil {
		if err := WriteRecord(r.w, Record{Seq: r.seq, Delivery: d}); err != nil {
			r.err = err
			log.Warn("trace recording stopped", "seq", r.seq, "error", err)
		}
	}
	if r.next != nil {
		r.next.Deliver(d)
	}
}

// Err returns the error that stopped recording, if any.
func (r *Recorder) Err() error {
	return r.err
}

// Count is the number of deliveries seen.
func (r *Recorder) Count() uint64 {
	return r.seq
}

// Reader reads records back from a trace.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record. It returns io.EOF at a clean end of the
// trace and io.ErrUnexpectedEOF for a truncated record.
func (rd *Reader) Next() (Record, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(rd.r, lengthBuf); err != nil {
		return Record{}, err
	}
	length := int(lengthBuf[0])<<24 | int(lengthBuf[1])<<16 | int(lengthBuf[2])<<8 | int(lengthBuf[3])
	if length > maxRecordSize {
		return Record{}, fmt.Errorf("length prefix %d: %w", length, ErrRecordTooLarge)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(rd.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	return Unmarshal(data)
}

// ReadAll reads every record of a trace.
func ReadAll(r io.Reader) ([]Record, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
