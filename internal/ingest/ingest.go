// Package ingest turns raw client frames into keypoint vectors.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
	"github.com/yashindibhagya/GestureConnect/pkg/utils"
)

var (
	ErrDecode          = errors.New("frame could not be decoded")
	ErrKeypointSize    = errors.New("keypoint vector has the wrong length")
	ErrNoEstimator     = errors.New("image frames are not supported without a pose estimator")
	ErrEstimatorFailed = errors.New("pose estimation failed")
)

type Config struct {
	KeypointSize           int
	MaxWidth               int
	MaxHeight              int
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
}

// Ingestor holds no per-session state and is safe for concurrent use.
type Ingestor struct {
	log       *logrus.Logger
	cfg       Config
	estimator landmark.Estimator
	utils     utils.IUtils
}

// New builds an Ingestor. A nil estimator makes every image frame fail with
// ErrNoEstimator while raw keypoints keep working.
func New(log *logrus.Logger, cfg Config, estimator landmark.Estimator, u utils.IUtils) *Ingestor {
	return &Ingestor{
		log:       log,
		cfg:       cfg,
		estimator: estimator,
		utils:     u,
	}
}

func (i *Ingestor) Ingest(ctx context.Context, frame entity.Frame) (entity.KeypointVector, error) {
	switch frame.Kind {
	case entity.FrameKindRawKeypoints:
		return i.fromKeypoints(frame.Keypoints)
	case entity.FrameKindEncodedImage:
		return i.fromImage(ctx, frame.Image)
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %d", ErrDecode, frame.Kind)
	}
}

func (i *Ingestor) fromKeypoints(keypoints []float32) (entity.KeypointVector, error) {
	if len(keypoints) != i.cfg.KeypointSize {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrKeypointSize, i.cfg.KeypointSize, len(keypoints))
	}
	return entity.KeypointVector(keypoints), nil
}

func (i *Ingestor) fromImage(ctx context.Context, image []byte) (entity.KeypointVector, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if i.estimator == nil {
		return nil, ErrNoEstimator
	}

	normalized, err := i.utils.NormalizeFrame(image, i.cfg.MaxWidth, i.cfg.MaxHeight)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	result, err := i.estimator.Estimate(ctx, normalized, landmark.Options{
		StaticImageMode:        true,
		MinDetectionConfidence: i.cfg.MinDetectionConfidence,
		MinTrackingConfidence:  i.cfg.MinTrackingConfidence,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		i.log.WithFields(log.Fields{
			"error":      err.Error(),
			"image_size": len(normalized),
		}).Warn("Pose estimation failed")
		return nil, fmt.Errorf("%w: %v", ErrEstimatorFailed, err)
	}

	vector, err := landmark.Flatten(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimatorFailed, err)
	}

	if len(vector) != i.cfg.KeypointSize {
		return nil, fmt.Errorf("%w: estimator produced %d values, expected %d", ErrKeypointSize, len(vector), i.cfg.KeypointSize)
	}

	return vector, nil
}
