package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/pipeline"
	"github.com/banshee-data/posefusion/internal/monitoring"
	"github.com/banshee-data/posefusion/internal/timeutil"
)

// Target is the producer and cycle side of a Core.
type Target interface {
	SetMeasurementSensorInfo(m *l1measurements.Measurement, system l1measurements.SystemDescriptor, id l1measurements.SensorID) error
	AddMeasurement(m *l1measurements.Measurement, nodes ...l1measurements.NodeDescriptor) error
	Fuse() pipeline.CycleReport
}

// Stats counts what a Replay or Live run did.
type Stats struct {
	Records int
	Refused int
	Cycles  int
}

// Apply converts rec and hands it to core.
func Apply(core Target, rec Record) error {
	m, err := rec.Measurement()
	if err != nil {
		return err
	}
	key := rec.Key()
	if err := core.SetMeasurementSensorInfo(m, key.System, key.ID); err != nil {
		return err
	}
	return core.AddMeasurement(m, rec.Nodes()...)
}

var logIngest = monitoring.Component("ingest")

// feed applies rec, counting and logging refusals. Refused records never
// stop a run.
func feed(core Target, rec Record, line int, stats *Stats) {
	stats.Records++
	if err := Apply(core, rec); err != nil {
		stats.Refused++
		logIngest("line %d: refused %s/%d: %v", line, rec.System, rec.Sensor, err)
	}
}

// Replay feeds dec into core, fusing whenever a record's timestamp moves
// at least frame seconds past the first timestamp of the current cycle.
// A final cycle fuses whatever remains at the end of the stream.
func Replay(ctx context.Context, core Target, dec *Decoder, frame float64) (Stats, error) {
	if frame <= 0 {
		return Stats{}, fmt.Errorf("replay frame must be positive, got %v", frame)
	}
	var stats Stats
	started := false
	var frameStart float64
	pending := 0

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		if !started {
			started, frameStart = true, rec.Timestamp
		} else if rec.Timestamp-frameStart >= frame {
			core.Fuse()
			stats.Cycles++
			pending = 0
			frameStart = rec.Timestamp
		}
		feed(core, rec, dec.Line(), &stats)
		pending++
	}

	if pending > 0 {
		core.Fuse()
		stats.Cycles++
	}
	return stats, nil
}

// Live feeds dec into core from a reader goroutine and fuses every
// interval on clock. It returns when ctx is done or the stream ends; a
// stream error is returned after a final cycle. On cancellation only
// Cycles is reported. The caller owns dec's underlying reader and should
// close it to release the reader goroutine after ctx is cancelled.
func Live(ctx context.Context, core Target, dec *Decoder, clock timeutil.Clock, interval time.Duration) (Stats, error) {
	if interval <= 0 {
		return Stats{}, fmt.Errorf("fuse interval must be positive, got %v", interval)
	}

	type result struct {
		stats Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var stats Stats
		for {
			rec, err := dec.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				done <- result{stats: stats, err: err}
				return
			}
			feed(core, rec, dec.Line(), &stats)
		}
	}()

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			return Stats{Cycles: cycles}, ctx.Err()
		case <-ticker.C():
			core.Fuse()
			cycles++
		case res := <-done:
			core.Fuse()
			res.stats.Cycles = cycles + 1
			return res.stats, res.err
		}
	}
}
