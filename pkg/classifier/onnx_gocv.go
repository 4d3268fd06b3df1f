//go:build gocv

package classifier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

type onnxClassifier struct {
	// gocv.Net is not safe for concurrent Forward calls.
	mu  sync.Mutex
	net gocv.Net
}

// OpenONNX loads an ONNX export of the sequence classifier with the OpenCV
// DNN module.
func OpenONNX(path string) Opener {
	return func(_ context.Context) (Classifier, error) {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrClassifierNotFound, path)
		}

		net := gocv.ReadNetFromONNX(path)
		if net.Empty() {
			return nil, fmt.Errorf("error reading onnx model %s", path)
		}

		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			return nil, fmt.Errorf("error setting backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			return nil, fmt.Errorf("error setting target: %w", err)
		}

		return &onnxClassifier{net: net}, nil
	}
}

func (c *onnxClassifier) Predict(ctx context.Context, sequence []entity.KeypointVector) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sequence) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrShapeMismatch)
	}

	width := len(sequence[0])
	data := make([]byte, 0, len(sequence)*width*4)
	for _, vec := range sequence {
		if len(vec) != width {
			return nil, fmt.Errorf("%w: ragged sequence", ErrShapeMismatch)
		}
		for _, f := range vec {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
	}

	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, len(sequence), width}, gocv.MatTypeCV32F, data)
	if err != nil {
		return nil, fmt.Errorf("error building input blob: %w", err)
	}
	defer blob.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, errors.New("onnx forward pass returned no output")
	}

	raw, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("error reading onnx output: %w", err)
	}

	probs := make([]float64, len(raw))
	for i, p := range raw {
		probs[i] = float64(p)
	}
	return probs, nil
}

func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
