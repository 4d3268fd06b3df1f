package classifier

import (
	"context"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

type uniformClassifier struct {
	labels int
}

// OpenUniform returns a classifier that assigns equal probability to every
// label. It lets the server run end to end without a trained model.
func OpenUniform(labels int) Opener {
	return func(_ context.Context) (Classifier, error) {
		return &uniformClassifier{labels: labels}, nil
	}
}

func (c *uniformClassifier) Predict(ctx context.Context, _ []entity.KeypointVector) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probs := make([]float64, c.labels)
	for i := range probs {
		probs[i] = 1 / float64(c.labels)
	}
	return probs, nil
}

func (c *uniformClassifier) Close() error {
	return nil
}
