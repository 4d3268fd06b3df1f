package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

type tfServingClassifier struct {
	modelURL string
	client   *fiber.Client
	timeout  time.Duration
	log      *logrus.Logger
}

type tfModelStatus struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

type tfPredictRequest struct {
	Instances [][]entity.KeypointVector `json:"instances"`
}

type tfPredictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// OpenTFServing opens a model hosted by TensorFlow Serving. modelURL is the
// REST model endpoint, e.g. http://localhost:8501/v1/models/sign_language.
func OpenTFServing(log *logrus.Logger, modelURL string, timeout time.Duration) Opener {
	return func(_ context.Context) (Classifier, error) {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		c := &tfServingClassifier{
			modelURL: strings.TrimRight(modelURL, "/"),
			client: &fiber.Client{
				JSONEncoder: jsoniter.Marshal,
				JSONDecoder: jsoniter.Unmarshal,
			},
			timeout: timeout,
			log:     log,
		}

		if err := c.checkAvailable(); err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"model_url": c.modelURL,
		}).Info("TensorFlow Serving model is available")

		return c, nil
	}
}

func (c *tfServingClassifier) checkAvailable() error {
	code, body, errs := c.client.Get(c.modelURL).Timeout(c.timeout).Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("failed to reach model server %s: %w", c.modelURL, errs[0])
	}

	if code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrClassifierNotFound, c.modelURL)
	}
	if code != http.StatusOK {
		return fmt.Errorf("model server returned status %d: %s", code, string(body))
	}

	var status tfModelStatus
	if err := jsoniter.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("error unmarshaling model status: %w", err)
	}

	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}

	return fmt.Errorf("%w: no available version at %s", ErrClassifierNotFound, c.modelURL)
}

func (c *tfServingClassifier) Predict(ctx context.Context, sequence []entity.KeypointVector) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	req := tfPredictRequest{Instances: [][]entity.KeypointVector{sequence}}
	code, body, errs := c.client.Post(c.modelURL + ":predict").
		Timeout(timeout).
		JSON(req).
		Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error calling model server: %w", errs[0])
	}

	var resp tfPredictResponse
	if err := jsoniter.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling prediction response: %w", err)
	}

	if code != http.StatusOK {
		if resp.Error != "" {
			return nil, fmt.Errorf("model server returned status %d: %s", code, resp.Error)
		}
		return nil, fmt.Errorf("model server returned status %d", code)
	}

	if len(resp.Predictions) != 1 {
		return nil, fmt.Errorf("%w: expected 1 prediction, got %d", ErrShapeMismatch, len(resp.Predictions))
	}

	return resp.Predictions[0], nil
}

func (c *tfServingClassifier) Close() error {
	return nil
}
