package poseworker

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
)

// TestHelperProcess is not a real test. It is re-executed as the child worker
// by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("POSEWORKER_HELPER") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("POSEWORKER_HELPER_MODE")
	for {
		var req request
		if err := readMessage(os.Stdin, &req); err != nil {
			return
		}

		switch mode {
		case "stall":
			time.Sleep(time.Hour)
		case "error":
			writeMessage(os.Stdout, landmark.Result{Error: "no image"})
		default:
			hand := make([][]float32, landmark.HandLandmarks)
			for i := range hand {
				hand[i] = []float32{float32(len(req.Frame)), float32(req.MinDetectionConfidence), 0}
			}
			writeMessage(os.Stdout, landmark.Result{RightHand: hand})
		}
	}
}

func helperWorker(t *testing.T, mode string) *Worker {
	t.Helper()
	t.Setenv("POSEWORKER_HELPER", "1")
	t.Setenv("POSEWORKER_HELPER_MODE", mode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	w, err := New(logger, []string{os.Args[0], "-test.run=^TestHelperProcess$"})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	in := request{Frame: []byte{1, 2, 3}, StaticImageMode: true, MinDetectionConfidence: 0.5}
	require.NoError(t, writeMessage(&buf, in))

	length := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, buf.Len()-4, int(length))

	var out request
	require.NoError(t, readMessage(&buf, &out))
	assert.Equal(t, in, out)
}

func TestReadMessage_RejectsOversizedPrefix(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxMessageSize+1)

	var out request
	err := readMessage(bytes.NewReader(prefix[:]), &out)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestNew_EmptyCommand(t *testing.T) {
	_, err := New(logrus.New(), nil)
	assert.Error(t, err)
}

func TestEstimate_RoundTrip(t *testing.T) {
	w := helperWorker(t, "ok")

	opts := landmark.Options{StaticImageMode: true, MinDetectionConfidence: 0.5, MinTrackingConfidence: 0.5}
	for i := 0; i < 3; i++ {
		result, err := w.Estimate(context.Background(), []byte("abcd"), opts)
		require.NoError(t, err)
		require.Len(t, result.RightHand, landmark.HandLandmarks)
		assert.Equal(t, float32(4), result.RightHand[0][0])
		assert.Equal(t, float32(0.5), result.RightHand[0][1])
		assert.Nil(t, result.Pose)
	}
}

func TestEstimate_WorkerError(t *testing.T) {
	w := helperWorker(t, "error")

	_, err := w.Estimate(context.Background(), []byte("x"), landmark.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image")
}

func TestEstimate_CancelKillsAndRestarts(t *testing.T) {
	w := helperWorker(t, "stall")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := w.Estimate(ctx, []byte("x"), landmark.Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	t.Setenv("POSEWORKER_HELPER_MODE", "ok")
	result, err := w.Estimate(context.Background(), []byte("xy"), landmark.Options{})
	require.NoError(t, err)
	assert.Equal(t, float32(2), result.RightHand[0][0])
}

func TestEstimate_AfterClose(t *testing.T) {
	w := helperWorker(t, "ok")
	require.NoError(t, w.Close())

	_, err := w.Estimate(context.Background(), []byte("x"), landmark.Options{})
	assert.ErrorIs(t, err, ErrWorkerClosed)
}
