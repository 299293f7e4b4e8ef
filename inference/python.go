package inference

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	inserrors "inspectwatch/errors"
	"inspectwatch/logging"
	"inspectwatch/types"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const stopGracePeriod = 2 * time.Second

// PythonLoader starts a model worker process speaking JSON lines on stdin/stdout
type PythonLoader struct {
	Command        string
	Args           []string
	Env            []string
	ModelPath      string
	StartupTimeout time.Duration
	// RequestTimeout bounds a single Predict call; zero waits until ctx is done
	RequestTimeout time.Duration
}

// request is one line written to the worker
type request struct {
	ID       string  `json:"id"`
	ImageB64 string  `json:"image_b64"`
	Format   string  `json:"format"`
	Conf     float64 `json:"conf"`
	IoU      float64 `json:"iou"`
	Classes  []int   `json:"classes,omitempty"`
}

// reply is any line read from the worker
type reply struct {
	ID         string      `mapstructure:"id"`
	Ready      bool        `mapstructure:"ready"`
	Task       string      `mapstructure:"task"`
	Top1       string      `mapstructure:"top1"`
	Confidence float64     `mapstructure:"confidence"`
	Detections []Detection `mapstructure:"detections"`
	Error      string      `mapstructure:"error"`
}

// PythonEngine is an Engine backed by a worker process
type PythonEngine struct {
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	lines          chan []byte
	exited         chan struct{}
	requestTimeout time.Duration
	model          string
	logger         *logrus.Entry

	mu        sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
	// readers tracks the pipe readers; cmd.Wait must not run before they are done
	readers sync.WaitGroup
}

// Load spawns the worker and waits for its ready line
func (l *PythonLoader) Load(ctx context.Context) (Engine, error) {
	logger := logging.NewLogger("inference")

	args := append([]string{}, l.Args...)
	if l.ModelPath != "" {
		args = append(args, "--model", l.ModelPath)
	}

	cmd := exec.Command(l.Command, args...)
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, inserrors.EngineUnavailable(l.ModelPath, fmt.Errorf("failed to create stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, inserrors.EngineUnavailable(l.ModelPath, fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, inserrors.EngineUnavailable(l.ModelPath, fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, inserrors.EngineUnavailable(l.ModelPath, fmt.Errorf("failed to start worker %s: %w", l.Command, err))
	}
	logger.WithFields(logrus.Fields{
		"pid":   cmd.Process.Pid,
		"model": l.ModelPath,
	}).Info("Inference worker spawned")

	e := &PythonEngine{
		cmd:            cmd,
		stdin:          stdin,
		lines:          make(chan []byte, 1),
		exited:         make(chan struct{}),
		requestTimeout: l.RequestTimeout,
		model:          l.ModelPath,
		logger:         logger,
	}

	e.wg.Add(3)
	e.readers.Add(2)
	go e.readLines(stdout)
	go e.logStderr(stderr)
	go e.waitProcess()

	if err := e.waitReady(ctx, l.StartupTimeout); err != nil {
		e.Close()
		return nil, inserrors.EngineUnavailable(l.ModelPath, err)
	}

	logger.WithField("model", l.ModelPath).Info("Model loaded")
	return e, nil
}

func (e *PythonEngine) waitReady(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case line, ok := <-e.lines:
			if !ok {
				return fmt.Errorf("worker exited before becoming ready")
			}
			r, err := decodeReply(line)
			if err != nil {
				e.logger.WithError(err).Debug("Ignoring non-protocol line during startup")
				continue
			}
			if r.Error != "" {
				return fmt.Errorf("worker failed to load model: %s", r.Error)
			}
			if r.Ready {
				return nil
			}
		case <-deadline:
			return inserrors.Timeout("model load", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Predict sends one image to the worker and waits for the matching reply
func (e *PythonEngine) Predict(ctx context.Context, img *types.Image, params Params) (*Prediction, error) {
	if img == nil || len(img.Encoded) == 0 {
		return nil, fmt.Errorf("no image data to predict on")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	req := request{
		ID:       uuid.NewString(),
		ImageB64: base64.StdEncoding.EncodeToString(img.Encoded),
		Format:   img.Format,
		Conf:     params.Confidence,
		IoU:      params.IoU,
		Classes:  params.Classes,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := e.stdin.Write(append(data, '\n')); err != nil {
		return nil, inserrors.Wrap(err, inserrors.ErrCodeEngineUnavailable, "failed to write to inference worker")
	}

	var deadline <-chan time.Time
	if e.requestTimeout > 0 {
		timer := time.NewTimer(e.requestTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case line, ok := <-e.lines:
			if !ok {
				return nil, inserrors.New(inserrors.ErrCodeEngineUnavailable, "inference worker exited")
			}
			r, err := decodeReply(line)
			if err != nil {
				e.logger.WithError(err).Debug("Ignoring non-protocol line")
				continue
			}
			if r.ID != req.ID {
				e.logger.WithField("id", r.ID).Debug("Ignoring stale reply")
				continue
			}
			return r.prediction()
		case <-deadline:
			return nil, inserrors.Timeout("prediction", e.requestTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *reply) prediction() (*Prediction, error) {
	if r.Error != "" {
		return nil, fmt.Errorf("inference worker error: %s", r.Error)
	}
	switch Task(r.Task) {
	case TaskClassify:
		return &Prediction{Task: TaskClassify, TopClass: r.Top1, Confidence: r.Confidence}, nil
	case TaskDetect:
		return &Prediction{Task: TaskDetect, Detections: r.Detections}, nil
	default:
		return nil, inserrors.UnrecognizedOutput(r.Task)
	}
}

func decodeReply(line []byte) (*reply, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid reply %q: %w", truncate(string(line), 80), err)
	}

	var r reply
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &r,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("unexpected reply shape: %w", err)
	}
	return &r, nil
}

func (e *PythonEngine) readLines(stdout io.Reader) {
	defer e.wg.Done()
	defer e.readers.Done()
	defer close(e.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		e.lines <- line
	}
	if err := scanner.Err(); err != nil {
		e.logger.WithError(err).Debug("Worker output closed")
	}
}

func (e *PythonEngine) logStderr(stderr io.Reader) {
	defer e.wg.Done()
	defer e.readers.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "[ERROR]") || strings.Contains(line, "Traceback") {
			e.logger.WithField("log", line).Warn("Inference worker error output")
			continue
		}
		e.logger.WithField("log", line).Debug("Inference worker log")
	}
}

func (e *PythonEngine) waitProcess() {
	defer e.wg.Done()
	defer close(e.exited)

	// Wait closes the pipes, so both readers must have seen EOF first
	e.readers.Wait()
	if err := e.cmd.Wait(); err != nil {
		e.logger.WithError(err).Debug("Inference worker exited")
		return
	}
	e.logger.Debug("Inference worker exited cleanly")
}

// Close closes the worker's stdin and kills it if it has not exited within the grace period
func (e *PythonEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.stdin.Close()
		go func() {
			for range e.lines {
			}
		}()

		select {
		case <-e.exited:
		case <-time.After(stopGracePeriod):
			e.logger.Warn("Inference worker did not exit, killing it")
			if err := e.cmd.Process.Kill(); err != nil {
				e.logger.WithError(err).Error("Failed to kill inference worker")
			}
			<-e.exited
		}
		e.wg.Wait()
	})
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
