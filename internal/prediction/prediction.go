// Package prediction classifies a full keypoint window into an action label.
package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/pkg/classifier"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
)

// Source hands out the shared classifier. *classifier.Loader satisfies it.
type Source interface {
	Get(ctx context.Context) (classifier.Classifier, error)
}

// Sequence is the read side of a keypoint window.
type Sequence interface {
	Ready() bool
	Snapshot() []entity.KeypointVector
}

type Config struct {
	Actions     []string
	Threshold   float64
	Concurrency int
	// Timeout bounds a single inference. Zero disables it.
	Timeout time.Duration
}

type Engine struct {
	log    *logrus.Logger
	cfg    Config
	source Source
	sem    *semaphore.Weighted
	now    func() time.Time
}

func New(log *logrus.Logger, cfg Config, source Source) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Engine{
		log:    log,
		cfg:    cfg,
		source: source,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:    time.Now,
	}
}

func (e *Engine) Actions() []string {
	out := make([]string, len(e.cfg.Actions))
	copy(out, e.cfg.Actions)
	return out
}

// Predict never returns an error. Windows that are not yet full produce the
// insufficient_data result without touching the classifier, and every failure
// is reported as an error result.
func (e *Engine) Predict(ctx context.Context, seq Sequence) entity.PredictionResult {
	if !seq.Ready() {
		return entity.InsufficientDataResult()
	}

	snapshot := seq.Snapshot()

	probs, err := e.infer(ctx, snapshot)
	if err != nil {
		e.log.WithFields(log.Fields{
			"error":  err.Error(),
			"frames": len(snapshot),
		}).Error("Prediction failed")
		return entity.ErrorResult(err)
	}

	result, err := e.interpret(probs)
	if err != nil {
		e.log.WithFields(log.Fields{
			"error":         err.Error(),
			"probabilities": len(probs),
			"actions":       len(e.cfg.Actions),
		}).Error("Prediction output rejected")
		return entity.ErrorResult(err)
	}

	return result
}

type outcome struct {
	probs []float64
	err   error
}

// infer runs the classifier on the bounded pool. The caller stops waiting as
// soon as ctx is done; the slot is held until the classifier returns.
func (e *Engine) infer(ctx context.Context, sequence []entity.KeypointVector) ([]float64, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	go func() {
		defer e.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("classifier panicked: %v", r)}
			}
		}()

		clf, err := e.source.Get(ctx)
		if err != nil {
			done <- outcome{err: fmt.Errorf("failed to load classifier: %w", err)}
			return
		}

		probs, err := clf.Predict(ctx, sequence)
		done <- outcome{probs: probs, err: err}
	}()

	select {
	case o := <-done:
		return o.probs, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) interpret(probs []float64) (entity.PredictionResult, error) {
	if len(probs) != len(e.cfg.Actions) || len(probs) == 0 {
		return entity.PredictionResult{}, fmt.Errorf("%w: got %d probabilities for %d actions",
			classifier.ErrShapeMismatch, len(probs), len(e.cfg.Actions))
	}

	idx := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[idx] {
			idx = i
		}
	}

	confidence := probs[idx]
	action := entity.ActionUnknown
	if confidence >= e.cfg.Threshold {
		action = e.cfg.Actions[idx]
	}

	all := make(map[string]float64, len(probs))
	for i, p := range probs {
		all[e.cfg.Actions[i]] = p
	}

	return entity.PredictionResult{
		Action:           action,
		Confidence:       confidence,
		AllProbabilities: all,
		Timestamp:        e.now().UTC().Format(time.RFC3339Nano),
	}, nil
}
