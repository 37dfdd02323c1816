// Command gen-measurements writes a synthetic two-system JSON-lines stream
// for posefusion: two hands walked at random, seen by a reference system
// and by a second system through a fixed rigid offset. The second system
// also carries one sensor whose node is left ambiguous.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/ingest"
	"github.com/banshee-data/posefusion/internal/units"
)

type genOptions struct {
	cycles int
	seed   uint64
	rate   float64
	noise  float64
	offset r3.Vec
	yawDeg float64
	units  string
}

// skeleton is the topology the generated stream refers to.
var skeleton = ingest.SkeletonDef{Nodes: []ingest.NodeDef{
	{Name: "root"},
	{Name: "hip", Parent: "root"},
	{Name: "hand_l", Parent: "hip"},
	{Name: "hand_r", Parent: "hip"},
}}

func main() {
	var o genOptions
	out := flag.String("out", "-", "Output file, - for stdout")
	skeletonOut := flag.String("skeleton-out", "", "Also write the matching skeleton JSON here")
	flag.IntVar(&o.cycles, "cycles", 200, "Number of time steps")
	seed := flag.Uint64("seed", 1, "Random seed")
	flag.Float64Var(&o.rate, "rate", 50, "Samples per second")
	flag.Float64Var(&o.noise, "noise", 0.001, "Position noise standard deviation (m)")
	flag.Float64Var(&o.offset.X, "offset-x", 0.1, "Second system translation X (m)")
	flag.Float64Var(&o.offset.Y, "offset-y", 0, "Second system translation Y (m)")
	flag.Float64Var(&o.offset.Z, "offset-z", 0, "Second system translation Z (m)")
	flag.Float64Var(&o.yawDeg, "yaw", 30, "Second system yaw (degrees)")
	flag.StringVar(&o.units, "units", units.Metres, "Length units written ("+units.GetValidLengthUnitsString()+")")
	flag.Parse()
	o.seed = *seed

	w := io.Writer(os.Stdout)
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("create output: %v", err)
		}
		defer f.Close()
		w = f
	}
	if err := generate(w, o); err != nil {
		log.Fatalf("generate: %v", err)
	}

	if *skeletonOut != "" {
		data, err := json.MarshalIndent(skeleton, "", "  ")
		if err != nil {
			log.Fatalf("encode skeleton: %v", err)
		}
		if err := os.WriteFile(*skeletonOut, append(data, '\n'), 0o644); err != nil {
			log.Fatalf("write skeleton: %v", err)
		}
	}
}

// walker is a bounded random walk.
type walker struct {
	rng    *rand.Rand
	origin r3.Vec
	pos    r3.Vec
}

func (w *walker) next(step, bounds float64) r3.Vec {
	d := r3.Scale(step*(0.5+w.rng.Float64()), r3.Unit(r3.Vec{X: w.rng.NormFloat64(), Y: w.rng.NormFloat64(), Z: w.rng.NormFloat64()}))
	next := r3.Add(w.pos, d)
	if e := r3.Sub(next, w.origin); math.Abs(e.X) > bounds || math.Abs(e.Y) > bounds || math.Abs(e.Z) > bounds {
		next = r3.Sub(w.pos, d)
	}
	w.pos = next
	return next
}

func generate(w io.Writer, o genOptions) error {
	if o.cycles <= 0 || o.rate <= 0 {
		return fmt.Errorf("cycles and rate must be positive")
	}
	scale, err := units.MetresPer(o.units)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed+1))
	left := &walker{rng: rng, origin: r3.Vec{X: -0.3, Z: 1}, pos: r3.Vec{X: -0.3, Z: 1}}
	right := &walker{rng: rng, origin: r3.Vec{X: 0.3, Z: 1}, pos: r3.Vec{X: 0.3, Z: 1}}
	toSecond := fusion.NewTransform(fusion.QuatFromRotationVector(r3.Vec{Z: units.DegToRad(o.yawDeg)}), o.offset)

	enc := ingest.NewEncoder(w)
	emit := func(system string, sensor int, nodes []string, ts float64, p r3.Vec) error {
		p = r3.Vec{X: p.X + rng.NormFloat64()*o.noise, Y: p.Y + rng.NormFloat64()*o.noise, Z: p.Z + rng.NormFloat64()*o.noise}
		v := o.noise * o.noise / (scale * scale)
		rec := ingest.Record{
			System: system, Sensor: sensor, Kind: "position", Timestamp: ts,
			Data:     []float64{p.X / scale, p.Y / scale, p.Z / scale},
			Variance: []float64{v, v, v},
			Units:    o.units,
		}
		if len(nodes) == 1 {
			rec.Node = nodes[0]
		} else {
			rec.Candidates = nodes
		}
		return enc.Encode(rec)
	}

	step := 0.8 / o.rate
	for i := 0; i < o.cycles; i++ {
		ts := float64(i) / o.rate
		l, r := left.next(step, 0.4), right.next(step, 0.4)
		for _, e := range []struct {
			system string
			sensor int
			nodes  []string
			p      r3.Vec
		}{
			{"HTC", 1, []string{"hand_l"}, l},
			{"HTC", 2, []string{"hand_r"}, r},
			{"Oculus", 1, []string{"hand_l"}, toSecond.Apply(l)},
			{"Oculus", 7, []string{"hand_l", "hand_r"}, toSecond.Apply(r)},
		} {
			if err := emit(e.system, e.sensor, e.nodes, ts, e.p); err != nil {
				return err
			}
		}
	}
	return nil
}
