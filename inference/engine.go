// Package inference defines the inference engine contract and a worker-process implementation of it.
package inference

import (
	"context"
	"strings"

	"inspectwatch/types"
)

// Task is the kind of model answering a prediction
type Task string

const (
	TaskClassify Task = "classify"
	TaskDetect   Task = "detect"
)

// Params are the per-call thresholds forwarded to the model
type Params struct {
	Confidence float64
	IoU        float64
	// Classes restricts detections to these class indices; empty means all
	Classes []int
}

// Detection is one object found by a detection model
type Detection struct {
	Class      string    `mapstructure:"class" json:"class"`
	Confidence float64   `mapstructure:"confidence" json:"confidence"`
	Box        []float64 `mapstructure:"box" json:"box,omitempty"`
}

// Prediction is the model output for one image
type Prediction struct {
	Task       Task
	TopClass   string
	Confidence float64
	Detections []Detection
}

// TopClassName returns the label the status rule matches against. For detection
// models this is the class of the most confident detection. ok is false when the
// prediction carries no usable label.
func (p *Prediction) TopClassName() (string, bool) {
	if p == nil {
		return "", false
	}
	switch p.Task {
	case TaskClassify:
		name := strings.TrimSpace(p.TopClass)
		return name, name != ""
	case TaskDetect:
		best := -1
		for i, d := range p.Detections {
			if best < 0 || d.Confidence > p.Detections[best].Confidence {
				best = i
			}
		}
		if best < 0 {
			return "", false
		}
		name := strings.TrimSpace(p.Detections[best].Class)
		return name, name != ""
	default:
		return "", false
	}
}

// ClassNames returns every label the status rule must consider: the top class of a
// classification, or the class of each detection in reply order. Empty labels are skipped.
func (p *Prediction) ClassNames() []string {
	if p == nil {
		return nil
	}
	var names []string
	switch p.Task {
	case TaskClassify:
		if name := strings.TrimSpace(p.TopClass); name != "" {
			names = append(names, name)
		}
	case TaskDetect:
		for _, d := range p.Detections {
			if name := strings.TrimSpace(d.Class); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// Engine runs a model on decoded images
type Engine interface {
	Predict(ctx context.Context, img *types.Image, params Params) (*Prediction, error)
	Close() error
}

// Loader acquires an Engine. A failed Load is fatal to the pipeline.
type Loader interface {
	Load(ctx context.Context) (Engine, error)
}
