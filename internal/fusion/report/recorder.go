package report

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l4calibration"
	"github.com/banshee-data/posefusion/internal/fusion/l5skeleton"
	"github.com/banshee-data/posefusion/internal/fusion/pipeline"
)

// Source is the read side of a Core the recorder samples after each cycle.
type Source interface {
	CalibrationResults() []l4calibration.CalibrationResult
	WorldState(node l1measurements.NodeDescriptor) (l5skeleton.State, error)
}

// CalibrationSample is one pair's estimate at the end of a cycle.
type CalibrationSample struct {
	Cycle       int
	Quality     float64
	Uncertainty float64
	PairCount   int
	Stable      bool
}

// TrackSample is one node's fused world position at the end of a cycle.
type TrackSample struct {
	Cycle    int
	Position r3.Vec
}

// Pair names an ordered system pair as recorded.
type Pair [2]l1measurements.SystemDescriptor

// Recorder accumulates per-cycle calibration and trajectory samples.
type Recorder struct {
	source Source

	mu           sync.Mutex
	calibrations map[Pair][]CalibrationSample
	tracks       map[l1measurements.NodeDescriptor][]TrackSample
	cycles       int
}

// NewRecorder creates a recorder reading from source.
func NewRecorder(source Source) *Recorder {
	return &Recorder{
		source:       source,
		calibrations: make(map[Pair][]CalibrationSample),
		tracks:       make(map[l1measurements.NodeDescriptor][]TrackSample),
	}
}

// Observe samples the source. Install it with Core.SetCycleObserver.
func (r *Recorder) Observe(report pipeline.CycleReport) {
	results := r.source.CalibrationResults()

	var positions []TrackSample
	var nodes []l1measurements.NodeDescriptor
	for _, node := range report.Updated {
		s, err := r.source.WorldState(node)
		if err != nil || !s.Valid {
			continue
		}
		nodes = append(nodes, node)
		positions = append(positions, TrackSample{Cycle: report.Cycle, Position: s.Position})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	for _, res := range results {
		if res.PairCount == 0 {
			continue
		}
		pair := Pair(res.Systems)
		samples := r.calibrations[pair]
		// A frozen result repeats every cycle; keep only its first sample.
		if n := len(samples); n > 0 && samples[n-1].Stable {
			continue
		}
		r.calibrations[pair] = append(samples, CalibrationSample{
			Cycle:       report.Cycle,
			Quality:     res.Quality,
			Uncertainty: res.Uncertainty,
			PairCount:   res.PairCount,
			Stable:      res.Stable,
		})
	}
	for i, node := range nodes {
		r.tracks[node] = append(r.tracks[node], positions[i])
	}
}

// Cycles returns the number of cycles observed.
func (r *Recorder) Cycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// Pairs returns the recorded system pairs in lexicographic order.
func (r *Recorder) Pairs() []Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pair, 0, len(r.calibrations))
	for p := range r.calibrations {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Calibration returns a copy of pair's samples.
func (r *Recorder) Calibration(pair Pair) []CalibrationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CalibrationSample(nil), r.calibrations[pair]...)
}

// Nodes returns nodes with at least one track sample, sorted by name.
func (r *Recorder) Nodes() []l1measurements.NodeDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]l1measurements.NodeDescriptor, 0, len(r.tracks))
	for n := range r.tracks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Track returns a copy of node's samples.
func (r *Recorder) Track(node l1measurements.NodeDescriptor) []TrackSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrackSample(nil), r.tracks[node]...)
}

// TrackSummary describes the spread of one node's fused trajectory.
type TrackSummary struct {
	Node    l1measurements.NodeDescriptor
	Samples int
	Mean    r3.Vec
	StdDev  r3.Vec
	// MeanStep is the mean distance between consecutive samples.
	MeanStep float64
}

// Summaries returns one TrackSummary per recorded node.
func (r *Recorder) Summaries() []TrackSummary {
	var out []TrackSummary
	for _, node := range r.Nodes() {
		track := r.Track(node)
		xs := make([]float64, len(track))
		ys := make([]float64, len(track))
		zs := make([]float64, len(track))
		for i, s := range track {
			xs[i], ys[i], zs[i] = s.Position.X, s.Position.Y, s.Position.Z
		}
		sum := TrackSummary{Node: node, Samples: len(track)}
		sum.Mean.X, sum.StdDev.X = meanStdDev(xs)
		sum.Mean.Y, sum.StdDev.Y = meanStdDev(ys)
		sum.Mean.Z, sum.StdDev.Z = meanStdDev(zs)
		if len(track) > 1 {
			steps := make([]float64, len(track)-1)
			for i := 1; i < len(track); i++ {
				steps[i-1] = r3.Norm(r3.Sub(track[i].Position, track[i-1].Position))
			}
			sum.MeanStep = stat.Mean(steps, nil)
		}
		out = append(out, sum)
	}
	return out
}

// meanStdDev is stat.MeanStdDev with a zero deviation for single samples.
func meanStdDev(x []float64) (mean, std float64) {
	if len(x) < 2 {
		if len(x) == 1 {
			return x[0], 0
		}
		return 0, 0
	}
	return stat.MeanStdDev(x, nil)
}
