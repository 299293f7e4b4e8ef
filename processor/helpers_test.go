package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"inspectwatch/config"
	inserrors "inspectwatch/errors"
	"inspectwatch/inference"
	"inspectwatch/types"

	"github.com/stretchr/testify/require"
)

// fakeCodec treats the file content as the image payload
type fakeCodec struct{}

func (fakeCodec) Decode(path string) (*types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, inserrors.CorruptImage(path, err)
	}
	content := string(data)
	if content == "corrupt" {
		return nil, inserrors.CorruptImage(path, errors.New("truncated"))
	}
	if content == "panic-decode" {
		panic("decoder exploded")
	}
	return &types.Image{Path: path, Format: "png", Width: 1, Height: 1, Encoded: data}, nil
}

func (fakeCodec) Annotate(img *types.Image, status types.Status) (*types.Image, error) {
	out := *img
	out.Encoded = []byte(string(status) + ":" + string(img.Encoded))
	return &out, nil
}

// fakeEngine answers with the image payload as the top class
type fakeEngine struct {
	mu     sync.Mutex
	params []inference.Params
	closed bool
}

func (e *fakeEngine) Predict(_ context.Context, img *types.Image, params inference.Params) (*inference.Prediction, error) {
	e.mu.Lock()
	e.params = append(e.params, params)
	e.mu.Unlock()

	label := string(img.Encoded)
	switch {
	case label == "segment":
		return nil, inserrors.UnrecognizedOutput("segment")
	case label == "engine-error":
		return nil, errors.New("CUDA out of memory")
	case strings.HasPrefix(label, "det:"):
		// det:a,b yields one detection per class with falling confidence
		var dets []inference.Detection
		for i, class := range strings.Split(strings.TrimPrefix(label, "det:"), ",") {
			dets = append(dets, inference.Detection{Class: class, Confidence: 0.9 - 0.1*float64(i)})
		}
		return &inference.Prediction{Task: inference.TaskDetect, Detections: dets}, nil
	}
	return &inference.Prediction{Task: inference.TaskClassify, TopClass: label, Confidence: 0.9}, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

type fakeLoader struct {
	engine *fakeEngine
	err    error
	loads  int
}

func (l *fakeLoader) Load(context.Context) (inference.Engine, error) {
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.engine, nil
}

// recordingBus keeps every published event
type recordingBus struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *recordingBus) Publish(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) ofKind(kind types.EventKind) []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Event
	for _, ev := range b.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBus) gridStatuses() []types.GridEventStatus {
	var out []types.GridEventStatus
	for _, ev := range b.ofKind(types.EventGrid) {
		out = append(out, ev.Grid.Status)
	}
	return out
}

func defaultRule() *StatusRule {
	return NewStatusRule(config.StatusLogic{
		{Status: types.StatusNOK, Keywords: []string{"bad", "nok"}},
		{Status: types.StatusOK, Keywords: []string{"good", "ok"}},
	})
}

func writeImage(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
