package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

type countingClassifier struct {
	closed atomic.Bool
}

func (c *countingClassifier) Predict(_ context.Context, _ []entity.KeypointVector) ([]float64, error) {
	return []float64{1}, nil
}

func (c *countingClassifier) Close() error {
	c.closed.Store(true)
	return nil
}

func TestLoader_ConcurrentFirstCallersShareOneLoad(t *testing.T) {
	var opens atomic.Int32
	release := make(chan struct{})
	instance := &countingClassifier{}

	loader := NewLoader(func(_ context.Context) (Classifier, error) {
		opens.Add(1)
		<-release
		return instance, nil
	})

	const callers = 16
	results := make([]Classifier, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clf, err := loader.Get(context.Background())
			assert.NoError(t, err)
			results[i] = clf
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	for _, clf := range results {
		assert.Same(t, instance, clf)
	}
	assert.True(t, loader.Loaded())
}

func TestLoader_RetriesAfterFailedLoad(t *testing.T) {
	var opens atomic.Int32
	loader := NewLoader(func(_ context.Context) (Classifier, error) {
		if opens.Add(1) == 1 {
			return nil, ErrClassifierNotFound
		}
		return &countingClassifier{}, nil
	})

	_, err := loader.Get(context.Background())
	require.ErrorIs(t, err, ErrClassifierNotFound)
	assert.False(t, loader.Loaded())

	clf, err := loader.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, clf)
	assert.Equal(t, int32(2), opens.Load())

	_, err = loader.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), opens.Load())
}

func TestLoader_LoadSurvivesCallerCancellation(t *testing.T) {
	loader := NewLoader(func(ctx context.Context) (Classifier, error) {
		if ctx.Err() != nil {
			return nil, errors.New("open saw a cancelled context")
		}
		return &countingClassifier{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Get(ctx)
	assert.NoError(t, err)
}

func TestLoader_Close(t *testing.T) {
	instance := &countingClassifier{}
	loader := NewLoader(func(_ context.Context) (Classifier, error) {
		return instance, nil
	})

	require.NoError(t, loader.Close())

	_, err := loader.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, loader.Close())

	assert.True(t, instance.closed.Load())
	assert.False(t, loader.Loaded())
}

func TestUniform(t *testing.T) {
	clf, err := OpenUniform(4)(context.Background())
	require.NoError(t, err)

	probs, err := clf.Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, probs)
}
