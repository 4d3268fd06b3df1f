package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultSequenceLength = 30
	defaultKeypointSize   = 1662
	defaultThreshold      = 0.5
)

var defaultActions = []string{"hello", "thanks", "iloveyou"}

// AppConfig is read from the environment. Model shape settings may also come
// from a manifest file; an explicit environment value wins over the manifest,
// which wins over the built-in default.
type AppConfig struct {
	Env  string `envconfig:"APP_ENV" default:"development"`
	Host string `envconfig:"APP_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"APP_PORT" default:"8080" validate:"min=1,max=65535"`

	ClassifierBackend  string        `envconfig:"CLASSIFIER_BACKEND" default:"uniform" validate:"oneof=tfserving onnx uniform"`
	ClassifierLocation string        `envconfig:"CLASSIFIER_LOCATION" validate:"required_unless=ClassifierBackend uniform"`
	ClassifierRequired bool          `envconfig:"CLASSIFIER_REQUIRED" default:"false"`
	ClassifierTimeout  time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"10s"`
	ModelManifest      string        `envconfig:"MODEL_MANIFEST"`

	Actions             []string `envconfig:"ACTIONS" validate:"min=1,unique,dive,required"`
	SequenceLength      int      `envconfig:"SEQUENCE_LENGTH" validate:"min=1"`
	KeypointSize        int      `envconfig:"KEYPOINT_SIZE" validate:"min=1"`
	PredictionThreshold *float64 `envconfig:"PREDICTION_THRESHOLD" validate:"required,min=0,max=1"`

	InferenceConcurrency int           `envconfig:"INFERENCE_CONCURRENCY" default:"4" validate:"min=1"`
	InferenceTimeout     time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"0s" validate:"min=0"`

	PoseBackend            string  `envconfig:"POSE_BACKEND" default:"websocket" validate:"oneof=websocket process none"`
	PoseEstimatorURL       string  `envconfig:"POSE_ESTIMATOR_URL" validate:"required_if=PoseBackend websocket"`
	PoseWorkerCommand      string  `envconfig:"POSE_WORKER_COMMAND" validate:"required_if=PoseBackend process"`
	PosePoolSize           int     `envconfig:"POSE_POOL_SIZE" default:"4" validate:"min=1"`
	MinDetectionConfidence float64 `envconfig:"MP_DETECTION_CONFIDENCE" default:"0.5" validate:"min=0,max=1"`
	MinTrackingConfidence  float64 `envconfig:"MP_TRACKING_CONFIDENCE" default:"0.5" validate:"min=0,max=1"`
	FrameMaxWidth          int     `envconfig:"FRAME_MAX_WIDTH" default:"640" validate:"min=0"`
	FrameMaxHeight         int     `envconfig:"FRAME_MAX_HEIGHT" default:"480" validate:"min=0"`
	FrameMaxPixels         int     `envconfig:"FRAME_MAX_PIXELS" default:"40000000" validate:"min=1"`

	DiscreteSessionIdleTTL time.Duration `envconfig:"DISCRETE_SESSION_IDLE_TTL" default:"30m" validate:"min=0"`
	MaxDiscreteSessions    int           `envconfig:"MAX_DISCRETE_SESSIONS" default:"10000" validate:"min=0"`

	PredictionSink string `envconfig:"PREDICTION_SINK" default:"none" validate:"oneof=none redis mqtt"`
	RedisAddress   string `envconfig:"REDIS_ADDRESS" validate:"required_if=PredictionSink redis"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisChannel   string `envconfig:"REDIS_CHANNEL" default:"gestureconnect:predictions"`
	MQTTBroker     string `envconfig:"MQTT_BROKER" validate:"required_if=PredictionSink mqtt"`
	MQTTTopic      string `envconfig:"MQTT_TOPIC" default:"gestureconnect/predictions"`
	MQTTClientID   string `envconfig:"MQTT_CLIENT_ID" default:"gestureconnect"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"50" validate:"gt=0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"100" validate:"min=1"`
}

// Manifest describes the trained model that sits next to the classifier
// artifact.
type Manifest struct {
	Actions        []string `yaml:"actions"`
	SequenceLength int      `yaml:"sequence_length"`
	KeypointSize   int      `yaml:"keypoint_size"`
	Threshold      *float64 `yaml:"threshold"`
}

func (c *AppConfig) Threshold() float64 {
	if c.PredictionThreshold == nil {
		return defaultThreshold
	}
	return *c.PredictionThreshold
}

func (c *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PoseWorkerArgs splits POSE_WORKER_COMMAND on whitespace.
func (c *AppConfig) PoseWorkerArgs() []string {
	return strings.Fields(c.PoseWorkerCommand)
}

// LoadAppConfig reads the environment, applies the model manifest if one is
// configured, fills the remaining defaults and validates the result.
func LoadAppConfig(validate *validator.Validate) (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.ModelManifest != "" {
		manifest, err := ReadManifest(cfg.ModelManifest)
		if err != nil {
			return nil, err
		}
		cfg.applyManifest(manifest)
	}

	cfg.applyDefaults()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse model manifest %s: %w", path, err)
	}

	if len(manifest.Actions) == 0 && manifest.SequenceLength == 0 && manifest.KeypointSize == 0 && manifest.Threshold == nil {
		return nil, errors.New("model manifest is empty")
	}

	return &manifest, nil
}

func (c *AppConfig) applyManifest(m *Manifest) {
	if len(c.Actions) == 0 {
		c.Actions = m.Actions
	}
	if c.SequenceLength == 0 {
		c.SequenceLength = m.SequenceLength
	}
	if c.KeypointSize == 0 {
		c.KeypointSize = m.KeypointSize
	}
	if c.PredictionThreshold == nil {
		c.PredictionThreshold = m.Threshold
	}
}

func (c *AppConfig) applyDefaults() {
	if len(c.Actions) == 0 {
		c.Actions = append([]string(nil), defaultActions...)
	}
	for i := range c.Actions {
		c.Actions[i] = strings.TrimSpace(c.Actions[i])
	}
	if c.SequenceLength == 0 {
		c.SequenceLength = defaultSequenceLength
	}
	if c.KeypointSize == 0 {
		c.KeypointSize = defaultKeypointSize
	}
	if c.PredictionThreshold == nil {
		threshold := defaultThreshold
		c.PredictionThreshold = &threshold
	}
}
