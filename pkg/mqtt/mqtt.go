// Package mqtt publishes recognized gestures to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	qos            = 1
)

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

type Config struct {
	Broker   string
	ClientID string
	Topic    string
}

// publisher is the subset of paho.Client the emitter needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Emitter publishes one message per recognized prediction to
// <topic>/<transport>.
type Emitter struct {
	log       *logrus.Logger
	topic     string
	client    publisher
	connected atomic.Bool

	mu        sync.Mutex
	published uint64
	failed    uint64
}

func New(log *logrus.Logger, cfg Config) (*Emitter, error) {
	e := &Emitter{log: log, topic: cfg.Topic}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(paho.Client) {
		e.connected.Store(true)
		log.WithFields(logrus.Fields{
			"broker":    cfg.Broker,
			"client_id": cfg.ClientID,
		}).Info("MQTT connection established")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		e.connected.Store(false)
		log.WithFields(logrus.Fields{
			"broker": cfg.Broker,
			"error":  err,
		}).Warn("MQTT connection lost, will auto-reconnect")
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.client = client
	e.connected.Store(true)
	return e, nil
}

func (e *Emitter) Publish(ctx context.Context, event entity.PredictionEvent) error {
	if !e.connected.Load() {
		e.fail()
		return ErrNotConnected
	}

	payload, err := jsoniter.Marshal(event)
	if err != nil {
		e.fail()
		return fmt.Errorf("failed to marshal prediction event: %w", err)
	}

	topic := e.topic + "/" + event.Transport
	token := e.client.Publish(topic, qos, false, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		e.fail()
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"topic":      topic,
		"session_id": event.SessionID,
		"action":     event.Action,
		"size":       len(payload),
	}).Debug("Prediction published to MQTT")
	return nil
}

func (e *Emitter) Name() string {
	return "mqtt"
}

// Stats reports the number of published and failed messages.
func (e *Emitter) Stats() (published, failed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published, e.failed
}

func (e *Emitter) Close() error {
	if e.client != nil {
		e.client.Disconnect(250)
	}
	e.connected.Store(false)
	return nil
}

func (e *Emitter) fail() {
	e.mu.Lock()
	e.failed++
	e.mu.Unlock()
}
