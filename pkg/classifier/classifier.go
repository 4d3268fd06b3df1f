// Package classifier holds the sequence classifier contract, its backends and
// the load-once guard that shares one loaded instance across all sessions.
package classifier

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

var (
	ErrClassifierNotFound = errors.New("classifier artifact not found")
	ErrShapeMismatch      = errors.New("classifier shape mismatch")
)

const (
	BackendTFServing = "tfserving"
	BackendONNX      = "onnx"
	BackendUniform   = "uniform"
)

// Classifier maps one window of keypoint vectors to a probability vector
// aligned with the configured label set.
type Classifier interface {
	Predict(ctx context.Context, sequence []entity.KeypointVector) ([]float64, error)
	Close() error
}

// Opener loads a classifier. It is called at most once per successful load.
type Opener func(ctx context.Context) (Classifier, error)

type loaded struct {
	clf Classifier
}

// Loader lazily opens a classifier and hands the same instance to every
// caller. Concurrent first callers share a single open; a failed open is
// retried by the next caller.
type Loader struct {
	open    Opener
	group   singleflight.Group
	current atomic.Pointer[loaded]
}

func NewLoader(open Opener) *Loader {
	return &Loader{open: open}
}

func (l *Loader) Get(ctx context.Context) (Classifier, error) {
	if cur := l.current.Load(); cur != nil {
		return cur.clf, nil
	}

	v, err, _ := l.group.Do("classifier", func() (interface{}, error) {
		if cur := l.current.Load(); cur != nil {
			return cur.clf, nil
		}

		clf, err := l.open(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		l.current.Store(&loaded{clf: clf})
		return clf, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(Classifier), nil
}

func (l *Loader) Loaded() bool {
	return l.current.Load() != nil
}

func (l *Loader) Close() error {
	cur := l.current.Swap(nil)
	if cur == nil {
		return nil
	}
	return cur.clf.Close()
}
