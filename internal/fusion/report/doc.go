// Package report records fusion runs and renders them for offline review:
// calibration convergence as PNG line plots (gonum/plot) and fused node
// trajectories as an HTML page (go-echarts).
//
// A Recorder is installed as a Core cycle observer; the renderers read
// only from the Recorder, never from the Core.
package report
