package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/units"
)

// ErrBadRecord is returned for records that cannot become a measurement.
var ErrBadRecord = errors.New("bad record")

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 64 * 1024

// Record is one measurement on the wire.
type Record struct {
	System     string    `json:"system"`
	Sensor     int       `json:"sensor"`
	Node       string    `json:"node,omitempty"`
	Candidates []string  `json:"candidates,omitempty"`
	Kind       string    `json:"kind"`
	Timestamp  float64   `json:"t"`
	Data       []float64 `json:"data"`
	Variance   []float64 `json:"variance"`
	Confidence *float64  `json:"confidence,omitempty"`
	// Units applies to position components and their variances. Rotations
	// are unit quaternions and scales are dimensionless.
	Units string `json:"units,omitempty"`
}

// Nodes returns the nodes the record's sensor might be observing.
func (r Record) Nodes() []l1measurements.NodeDescriptor {
	var out []l1measurements.NodeDescriptor
	if r.Node != "" {
		out = append(out, l1measurements.NodeDescriptor(r.Node))
	}
	for _, c := range r.Candidates {
		out = append(out, l1measurements.NodeDescriptor(c))
	}
	return out
}

// Key returns the record's sensor key.
func (r Record) Key() l1measurements.SensorKey {
	return l1measurements.SensorKey{System: l1measurements.SystemDescriptor(r.System), ID: l1measurements.SensorID(r.Sensor)}
}

// Measurement builds a stamped, validated measurement in metres.
func (r Record) Measurement() (*l1measurements.Measurement, error) {
	if r.System == "" {
		return nil, fmt.Errorf("%w: missing system", ErrBadRecord)
	}
	kind, err := l1measurements.ParseKind(r.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	n := kind.Dim()
	if len(r.Data) != n || len(r.Variance) != n {
		return nil, fmt.Errorf("%w: %s wants %d data and variance values, got %d and %d",
			ErrBadRecord, kind, n, len(r.Data), len(r.Variance))
	}
	if !units.IsValidLength(r.Units) {
		return nil, fmt.Errorf("%w: unknown units %q (valid: %s)", ErrBadRecord, r.Units, units.GetValidLengthUnitsString())
	}
	scale, _ := units.MetresPer(r.Units)

	data := append([]float64(nil), r.Data...)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		v := r.Variance[i]
		if kind.HasPosition() && i < 3 {
			data[i] *= scale
			v *= scale * scale
		}
		cov.SetSym(i, i, v)
	}

	confidence := 1.0
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	m := l1measurements.NewMeasurement(kind, data, cov)
	if !m.SetMetadata(r.Timestamp, confidence) {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, m.Validate())
	}
	return m, nil
}

// Decoder reads Records from a JSON-lines stream. Blank lines and lines
// starting with # are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineBytes)
	return &Decoder{scanner: s}
}

// Line returns the number of the last line read.
func (d *Decoder) Line() int { return d.line }

// Next returns the next record, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Record, error) {
	for d.scanner.Scan() {
		d.line++
		text := strings.TrimSpace(d.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return Record{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return rec, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("line %d: %w", d.line+1, err)
	}
	return Record{}, io.EOF
}

// Encoder writes Records as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes rec followed by a newline.
func (e *Encoder) Encode(rec Record) error {
	return e.enc.Encode(rec)
}
