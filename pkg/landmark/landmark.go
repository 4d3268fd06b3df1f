// Package landmark defines the boundary to the external pose estimator and the
// flattening of its landmark sets into a keypoint vector.
package landmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

const (
	PoseLandmarks = 33
	PoseDims      = 4
	FaceLandmarks = 468
	FaceDims      = 3
	HandLandmarks = 21
	HandDims      = 3

	// Size is the keypoint vector width produced by Flatten.
	Size = PoseLandmarks*PoseDims + FaceLandmarks*FaceDims + 2*HandLandmarks*HandDims
)

const (
	BackendWebsocket = "websocket"
	BackendProcess   = "process"
	BackendNone      = "none"
)

var ErrLandmarkShape = errors.New("unexpected landmark shape")

// Options are sent with every frame. Frames are always estimated as standalone
// still images; no tracking state is carried between calls.
type Options struct {
	StaticImageMode        bool    `json:"static_image_mode" msgpack:"static_image_mode"`
	MinDetectionConfidence float64 `json:"min_detection_confidence" msgpack:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence" msgpack:"min_tracking_confidence"`
}

// Result holds the landmark sets found in one image. A nil part means the part
// was not detected. Pose points are (x, y, z, visibility); the others (x, y, z).
type Result struct {
	Pose      [][]float32 `json:"pose" msgpack:"pose"`
	Face      [][]float32 `json:"face" msgpack:"face"`
	LeftHand  [][]float32 `json:"left_hand" msgpack:"left_hand"`
	RightHand [][]float32 `json:"right_hand" msgpack:"right_hand"`
	Error     string      `json:"error,omitempty" msgpack:"error,omitempty"`
}

type Estimator interface {
	Estimate(ctx context.Context, image []byte, opts Options) (*Result, error)
	Close() error
}

// Flatten concatenates pose, face, left hand and right hand landmarks into a
// vector of length Size. Missing parts contribute zeros.
func Flatten(r *Result) (entity.KeypointVector, error) {
	out := make(entity.KeypointVector, 0, Size)
	if r == nil {
		return out[:Size], nil
	}

	parts := []struct {
		name   string
		points [][]float32
		count  int
		dims   int
	}{
		{"pose", r.Pose, PoseLandmarks, PoseDims},
		{"face", r.Face, FaceLandmarks, FaceDims},
		{"left_hand", r.LeftHand, HandLandmarks, HandDims},
		{"right_hand", r.RightHand, HandLandmarks, HandDims},
	}

	for _, part := range parts {
		if len(part.points) == 0 {
			out = append(out, make([]float32, part.count*part.dims)...)
			continue
		}

		if len(part.points) != part.count {
			return nil, fmt.Errorf("%w: %s has %d landmarks, expected %d",
				ErrLandmarkShape, part.name, len(part.points), part.count)
		}

		for i, p := range part.points {
			if len(p) < part.dims {
				return nil, fmt.Errorf("%w: %s landmark %d has %d values, expected %d",
					ErrLandmarkShape, part.name, i, len(p), part.dims)
			}
			out = append(out, p[:part.dims]...)
		}
	}

	return out, nil
}
