package l5skeleton

import (
	"fmt"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

// QueuePolicy decides which queued measurement wins a node's update.
type QueuePolicy int

const (
	// QueueNewest picks the greatest timestamp; equal timestamps go to the
	// later arrival.
	QueueNewest QueuePolicy = iota
	// QueueArrival picks the last measurement enqueued regardless of its
	// timestamp.
	QueueArrival
)

func (p QueuePolicy) String() string {
	switch p {
	case QueueNewest:
		return "newest"
	case QueueArrival:
		return "arrival"
	default:
		return fmt.Sprintf("QueuePolicy(%d)", int(p))
	}
}

// ParseQueuePolicy converts a policy name to a QueuePolicy.
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "newest", "":
		return QueueNewest, nil
	case "arrival":
		return QueueArrival, nil
	default:
		return 0, fmt.Errorf("unknown queue policy %q", s)
	}
}

func (p QueuePolicy) pick(queue []*l1measurements.Measurement, accept func(*l1measurements.Measurement) bool) *l1measurements.Measurement {
	var best *l1measurements.Measurement
	for _, m := range queue {
		if !accept(m) {
			continue
		}
		if p == QueueArrival || best == nil || m.Timestamp() >= best.Timestamp() {
			best = m
		}
	}
	return best
}
