package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

type fakeToken struct {
	done     chan struct{}
	complete bool
	err      error
}

func newToken(complete bool, err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), complete: complete, err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	token        *fakeToken
	sent         []message
	disconnected bool
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	f.sent = append(f.sent, message{topic: topic, payload: payload.([]byte)})
	return f.token
}

func (f *fakeClient) Disconnect(uint) { f.disconnected = true }

func newEmitter(client *fakeClient) *Emitter {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	e := &Emitter{log: logger, topic: "gestureconnect/predictions", client: client}
	e.connected.Store(true)
	return e
}

func TestPublish(t *testing.T) {
	client := &fakeClient{token: newToken(true, nil)}
	e := newEmitter(client)

	event := entity.PredictionEvent{SessionID: "s-1", Transport: "streaming", Action: "thanks", Confidence: 0.8}
	require.NoError(t, e.Publish(context.Background(), event))

	require.Len(t, client.sent, 1)
	assert.Equal(t, "gestureconnect/predictions/streaming", client.sent[0].topic)

	var got entity.PredictionEvent
	require.NoError(t, jsoniter.Unmarshal(client.sent[0].payload, &got))
	assert.Equal(t, event.Action, got.Action)

	published, failed := e.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(0), failed)
}

func TestPublish_Failures(t *testing.T) {
	tests := []struct {
		name      string
		token     *fakeToken
		connected bool
		wantErr   error
	}{
		{name: "disconnected", token: newToken(true, nil), connected: false, wantErr: ErrNotConnected},
		{name: "timeout", token: newToken(false, nil), connected: true, wantErr: ErrPublishTimeout},
		{name: "broker error", token: newToken(true, errors.New("not authorized")), connected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEmitter(&fakeClient{token: tt.token})
			e.connected.Store(tt.connected)

			err := e.Publish(context.Background(), entity.PredictionEvent{Transport: "discrete"})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			_, failed := e.Stats()
			assert.Equal(t, uint64(1), failed)
		})
	}
}

func TestClose(t *testing.T) {
	client := &fakeClient{token: newToken(true, nil)}
	e := newEmitter(client)

	require.NoError(t, e.Close())
	assert.True(t, client.disconnected)
	assert.ErrorIs(t, e.Publish(context.Background(), entity.PredictionEvent{}), ErrNotConnected)
}
