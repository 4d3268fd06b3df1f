// Package poseworker runs a landmark estimator as a child process and talks to
// it over stdin/stdout with length-prefixed msgpack messages.
//
// Each message is a 4 byte big-endian length followed by that many bytes of
// msgpack. The worker answers every request with exactly one landmark result.
package poseworker

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
)

const maxMessageSize = 64 << 20

var (
	ErrWorkerClosed    = errors.New("pose worker closed")
	ErrMessageTooLarge = errors.New("pose worker message too large")
)

type request struct {
	Frame                  []byte  `msgpack:"frame"`
	StaticImageMode        bool    `msgpack:"static_image_mode"`
	MinDetectionConfidence float64 `msgpack:"min_detection_confidence"`
	MinTrackingConfidence  float64 `msgpack:"min_tracking_confidence"`
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// Worker serializes estimate calls onto a single child process. The process is
// started on first use and restarted after it dies or a call is cancelled.
type Worker struct {
	log  *logrus.Logger
	name string
	args []string

	mu     sync.Mutex
	proc   *process
	closed bool
}

func New(log *logrus.Logger, command []string) (*Worker, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("pose worker command is empty")
	}

	return &Worker{
		log:  log,
		name: command[0],
		args: command[1:],
	}, nil
}

func (w *Worker) spawn() (*process, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, w.name, w.args...)
	cmd.WaitDelay = 2 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start pose worker: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	w.log.WithFields(logrus.Fields{
		"command": w.name,
		"pid":     cmd.Process.Pid,
	}).Info("Pose worker started")

	go w.logStderr(cmd.Process.Pid, stderr)
	go w.wait(p)

	return p, nil
}

func (w *Worker) logStderr(pid int, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		entry := w.log.WithField("pid", pid)

		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			entry.Error(line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			entry.Warn(line)
		default:
			entry.Debug(line)
		}
	}
}

func (w *Worker) wait(p *process) {
	defer close(p.done)

	err := p.cmd.Wait()
	fields := logrus.Fields{"pid": p.cmd.Process.Pid}
	if err != nil {
		fields["error"] = err.Error()
		w.log.WithFields(fields).Warn("Pose worker exited")
		return
	}
	w.log.WithFields(fields).Info("Pose worker exited cleanly")
}

// current returns the live process, starting a new one if the previous one
// exited. Callers hold w.mu.
func (w *Worker) current() (*process, error) {
	if w.proc != nil {
		select {
		case <-w.proc.done:
			w.proc = nil
		default:
			return w.proc, nil
		}
	}

	p, err := w.spawn()
	if err != nil {
		return nil, err
	}
	w.proc = p
	return p, nil
}

// discard kills p and forgets it. Callers hold w.mu.
func (w *Worker) discard(p *process) {
	p.cancel()
	p.stdin.Close()
	if w.proc == p {
		w.proc = nil
	}
}

func (w *Worker) Estimate(ctx context.Context, image []byte, opts landmark.Options) (*landmark.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWorkerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := w.current()
	if err != nil {
		return nil, err
	}

	// Killing the process is what unblocks a pending read on its stdout.
	stop := context.AfterFunc(ctx, p.cancel)
	defer func() {
		if !stop() {
			w.discard(p)
		}
	}()

	req := request{
		Frame:                  image,
		StaticImageMode:        opts.StaticImageMode,
		MinDetectionConfidence: opts.MinDetectionConfidence,
		MinTrackingConfidence:  opts.MinTrackingConfidence,
	}
	if err := writeMessage(p.stdin, req); err != nil {
		w.discard(p)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error sending frame to pose worker: %w", err)
	}

	var result landmark.Result
	if err := readMessage(p.stdout, &result); err != nil {
		w.discard(p)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error reading landmarks from pose worker: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("pose worker error: %s", result.Error)
	}

	return &result, nil
}

// Close asks the worker to exit by closing its stdin and kills it if it has
// not exited within a few seconds.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	p := w.proc
	w.proc = nil
	if p == nil {
		return nil
	}

	p.stdin.Close()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		w.log.Warn("Pose worker did not exit in time, killing it")
		p.cancel()
		<-p.done
	}
	p.cancel()

	return nil
}

func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(payload) > maxMessageSize {
		return ErrMessageTooLarge
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return ErrMessageTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
