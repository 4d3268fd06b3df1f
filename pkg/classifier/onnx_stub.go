//go:build !gocv

package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// OpenONNX reports that this binary was built without OpenCV support. Build
// with -tags gocv to enable the ONNX backend.
func OpenONNX(path string) Opener {
	return func(_ context.Context) (Classifier, error) {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrClassifierNotFound, path)
		}
		return nil, errors.New("onnx backend requires building with -tags gocv")
	}
}
