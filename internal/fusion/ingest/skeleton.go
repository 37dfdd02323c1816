package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l5skeleton"
)

// NodeDef declares one skeleton node. An empty Parent marks the root; an
// empty Model uses the Core's default model.
type NodeDef struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Model  string `json:"model,omitempty"`
}

// SkeletonDef is a skeleton topology listed parents-first.
type SkeletonDef struct {
	Nodes []NodeDef `json:"nodes"`
}

// NodeAdder is the topology side of a Core.
type NodeAdder interface {
	AddNode(node, parent l1measurements.NodeDescriptor) error
	AddNodeWithModel(node, parent l1measurements.NodeDescriptor, model l5skeleton.ModelKind) error
}

// ParseSkeleton decodes a SkeletonDef, rejecting unknown fields.
func ParseSkeleton(r io.Reader) (SkeletonDef, error) {
	var def SkeletonDef
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return SkeletonDef{}, fmt.Errorf("parse skeleton: %w", err)
	}
	if len(def.Nodes) == 0 {
		return SkeletonDef{}, fmt.Errorf("parse skeleton: no nodes")
	}
	return def, nil
}

// LoadSkeleton reads a SkeletonDef from path.
func LoadSkeleton(path string) (SkeletonDef, error) {
	f, err := os.Open(path)
	if err != nil {
		return SkeletonDef{}, fmt.Errorf("open skeleton: %w", err)
	}
	defer f.Close()
	return ParseSkeleton(f)
}

// Build adds every node to core in order.
func (d SkeletonDef) Build(core NodeAdder) error {
	for _, n := range d.Nodes {
		node, parent := l1measurements.NodeDescriptor(n.Name), l1measurements.NodeDescriptor(n.Parent)
		var err error
		if n.Model == "" {
			err = core.AddNode(node, parent)
		} else {
			model, perr := l5skeleton.ParseModel(n.Model)
			if perr != nil {
				return fmt.Errorf("node %s: %w", n.Name, perr)
			}
			err = core.AddNodeWithModel(node, parent, model)
		}
		if err != nil {
			return fmt.Errorf("node %s: %w", n.Name, err)
		}
	}
	return nil
}
