package websocketPkg

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
)

type fakeService struct {
	received chan estimateRequest
	reply    func(req estimateRequest) interface{}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req estimateRequest
		if err := json.Unmarshal(message, &req); err != nil {
			return
		}
		f.received <- req

		resp := f.reply(req)
		if resp == nil {
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func startFake(t *testing.T, reply func(req estimateRequest) interface{}) (*fakeService, string) {
	t.Helper()
	fake := &fakeService{received: make(chan estimateRequest, 10), reply: reply}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestEstimate_SendsFrameAndOptions(t *testing.T) {
	pose := make([][]float32, landmark.PoseLandmarks)
	for i := range pose {
		pose[i] = []float32{0.1, 0.2, 0.3, 0.9}
	}

	fake, url := startFake(t, func(_ estimateRequest) interface{} {
		return landmark.Result{Pose: pose}
	})

	client := NewPoseEstimatorClient(quietLogger(), url, 2)
	defer client.Close()

	opts := landmark.Options{StaticImageMode: true, MinDetectionConfidence: 0.5, MinTrackingConfidence: 0.4}
	result, err := client.Estimate(context.Background(), []byte("jpeg-bytes"), opts)
	require.NoError(t, err)
	assert.Len(t, result.Pose, landmark.PoseLandmarks)
	assert.Nil(t, result.LeftHand)

	var req estimateRequest
	for {
		req = <-fake.received
		if req.Frame != "" {
			break
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(req.Frame)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(decoded))
	assert.Equal(t, opts, req.Options)
}

func TestEstimate_ServiceError(t *testing.T) {
	_, url := startFake(t, func(_ estimateRequest) interface{} {
		return map[string]string{"error": "no image"}
	})

	client := NewPoseEstimatorClient(quietLogger(), url, 1)
	defer client.Close()

	_, err := client.Estimate(context.Background(), []byte("x"), landmark.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image")
}

func TestEstimate_CancelUnblocksRead(t *testing.T) {
	_, url := startFake(t, func(_ estimateRequest) interface{} {
		return nil
	})

	client := NewPoseEstimatorClient(quietLogger(), url, 1)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Estimate(ctx, []byte("x"), landmark.Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEstimate_AfterClose(t *testing.T) {
	_, url := startFake(t, func(_ estimateRequest) interface{} { return landmark.Result{} })

	client := NewPoseEstimatorClient(quietLogger(), url, 1)
	require.NoError(t, client.Close())

	_, err := client.Estimate(context.Background(), []byte("x"), landmark.Options{})
	assert.Error(t, err)
}
