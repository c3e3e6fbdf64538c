package scan

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// logRecord is the JSON-lines wire form of one scan. Points are flat
// [x, y, z, intensity] tuples to keep log lines compact.
type logRecord struct {
	Seq     uint32       `json:"seq"`
	TSNanos int64        `json:"ts_unix_nanos"`
	Frame   string       `json:"frame"`
	Points  [][4]float64 `json:"points"`
}

// Writer appends scans to a JSON-lines log.
type Writer struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewWriter wraps w in a scan log writer.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one scan.
func (w *Writer) Write(s *Scan) error {
	rec := logRecord{
		Seq:     s.Seq,
		TSNanos: s.Stamp.UnixNano(),
		Frame:   s.Frame,
		Points:  make([][4]float64, len(s.Points)),
	}
	for i, p := range s.Points {
		rec.Points[i] = [4]float64{p.X, p.Y, p.Z, float64(p.Intensity)}
	}
	if err := w.enc.Encode(&rec); err != nil {
		return fmt.Errorf("encode scan %d: %w", s.Seq, err)
	}
	return nil
}

// Flush flushes buffered log lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader iterates scans from a JSON-lines log.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r in a scan log reader.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	// Dense scans produce long lines; default 64 KiB is not enough.
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	return &Reader{sc: sc}
}

// Next returns the next scan, or io.EOF when the log is exhausted.
func (r *Reader) Next() (*Scan, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var rec logRecord
	if err := json.Unmarshal(r.sc.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("decode scan record: %w", err)
	}
	s := &Scan{
		Seq:    rec.Seq,
		Stamp:  time.Unix(0, rec.TSNanos),
		Frame:  rec.Frame,
		Points: make([]Point, len(rec.Points)),
	}
	for i, p := range rec.Points {
		s.Points[i] = Point{X: p[0], Y: p[1], Z: p[2], Intensity: uint8(p[3])}
	}
	return s, nil
}

// ReadLogFile loads every scan from a JSON-lines log file. Intended
// for ground-truth seeding and small replay fixtures; streaming
// consumers should use Reader directly.
func ReadLogFile(path string) ([]*Scan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scan log: %w", err)
	}
	defer f.Close()

	var scans []*Scan
	r := NewReader(f)
	for {
		s, err := r.Next()
		if err == io.EOF {
			return scans, nil
		}
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
}
