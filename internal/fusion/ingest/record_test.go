package ingest

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

func TestRecord_Measurement(t *testing.T) {
	rec := Record{
		System: "HTC", Sensor: 1, Node: "hand_l", Kind: "position", Timestamp: 0.5,
		Data: []float64{10, 20, 30}, Variance: []float64{1, 1, 4}, Units: "cm",
	}
	m, err := rec.Measurement()
	require.NoError(t, err)
	assert.True(t, m.Valid())
	assert.Equal(t, 0.5, m.Timestamp())
	assert.Equal(t, 1.0, m.Confidence())

	p, ok := m.Position()
	require.True(t, ok)
	assert.InDelta(t, 0.1, p.X, 1e-12)
	assert.InDelta(t, 0.3, p.Z, 1e-12)
	assert.InDelta(t, 4e-4, m.Covariance().At(2, 2), 1e-15)
}

func TestRecord_RigidBodyScalesOnlyPosition(t *testing.T) {
	conf := 0.8
	rec := Record{
		System: "Oculus", Sensor: 2, Kind: "rigid_body", Units: "mm", Confidence: &conf,
		Data:     []float64{1000, 0, 0, 1, 0, 0, 0},
		Variance: []float64{1, 1, 1, 0.01, 0.01, 0.01, 0.01},
	}
	m, err := rec.Measurement()
	require.NoError(t, err)
	p, _ := m.Position()
	assert.InDelta(t, 1, p.X, 1e-12)
	assert.Equal(t, r3.Vec{}, r3.Vec{Y: p.Y, Z: p.Z})
	q, _ := m.Rotation()
	assert.Equal(t, 1.0, q.Real)
	assert.Equal(t, 0.01, m.Covariance().At(3, 3))
	assert.Equal(t, 0.8, m.Confidence())
}

func TestRecord_MeasurementErrors(t *testing.T) {
	bad := 1.5
	tests := []struct {
		name string
		rec  Record
	}{
		{"no system", Record{Kind: "position", Data: []float64{0, 0, 0}, Variance: []float64{1, 1, 1}}},
		{"unknown kind", Record{System: "a", Kind: "velocity", Data: []float64{0, 0, 0}, Variance: []float64{1, 1, 1}}},
		{"short data", Record{System: "a", Kind: "position", Data: []float64{0, 0}, Variance: []float64{1, 1, 1}}},
		{"short variance", Record{System: "a", Kind: "rotation", Data: []float64{1, 0, 0, 0}, Variance: []float64{1}}},
		{"unknown units", Record{System: "a", Kind: "position", Data: []float64{0, 0, 0}, Variance: []float64{1, 1, 1}, Units: "ft"}},
		{"negative variance", Record{System: "a", Kind: "position", Data: []float64{0, 0, 0}, Variance: []float64{1, -1, 1}}},
		{"confidence", Record{System: "a", Kind: "position", Data: []float64{0, 0, 0}, Variance: []float64{1, 1, 1}, Confidence: &bad}},
		{"zero quaternion", Record{System: "a", Kind: "rotation", Data: []float64{0, 0, 0, 0}, Variance: []float64{1, 1, 1, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.Measurement()
			assert.True(t, errors.Is(err, ErrBadRecord), "got %v", err)
		})
	}
}

func TestRecord_Nodes(t *testing.T) {
	rec := Record{Node: "hip", Candidates: []string{"hand_l", "hand_r"}}
	assert.Equal(t, []l1measurements.NodeDescriptor{"hip", "hand_l", "hand_r"}, rec.Nodes())
	assert.Empty(t, Record{}.Nodes())
	assert.Equal(t, l1measurements.SensorKey{System: "HTC", ID: 3}, Record{System: "HTC", Sensor: 3}.Key())
}

func TestDecoder(t *testing.T) {
	input := `# header comment
{"system":"HTC","sensor":1,"node":"hip","kind":"position","t":0,"data":[0,0,0],"variance":[1,1,1]}

{"system":"Oculus","sensor":2,"candidates":["a","b"],"kind":"scale","t":1,"data":[1,1,1],"variance":[0,0,0]}
`
	dec := NewDecoder(strings.NewReader(input))

	first, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "HTC", first.System)
	assert.Equal(t, 2, dec.Line())

	second, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, second.Candidates)
	assert.Equal(t, 4, dec.Line())

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_Malformed(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{\"system\":\"a\"}\n{not json\n"))
	_, err := dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestEncoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := Record{System: "HTC", Sensor: 4, Node: "head", Kind: "position", Timestamp: 1.25, Data: []float64{1, 2, 3}, Variance: []float64{0.1, 0.1, 0.1}}
	require.NoError(t, enc.Encode(want))

	got, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
