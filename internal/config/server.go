package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	recognitionHandler "github.com/yashindibhagya/GestureConnect/internal/api/recognition/handler"
	recognitionService "github.com/yashindibhagya/GestureConnect/internal/api/recognition/service"
	"github.com/yashindibhagya/GestureConnect/internal/ingest"
	"github.com/yashindibhagya/GestureConnect/internal/middleware"
	"github.com/yashindibhagya/GestureConnect/internal/prediction"
	"github.com/yashindibhagya/GestureConnect/internal/session"
	"github.com/yashindibhagya/GestureConnect/pkg/classifier"
	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
	"github.com/yashindibhagya/GestureConnect/pkg/utils"
)

type ServerOption func(*Server) error

type Server struct {
	engine     *fiber.App
	log        *logrus.Logger
	cfg        *AppConfig
	middleware middleware.Middleware
	validator  *validator.Validate
	utils      utils.IUtils
	classifier *classifier.Loader
	estimator  landmark.Estimator
	sinks      []recognitionService.PredictionSink
	tracker    session.Tracker
	registry   *session.Registry
	handlers   []handler
	root       rootHandler

	ctx    context.Context
	cancel context.CancelFunc
}

type handler interface {
	Start(srv fiber.Router)
}

type rootHandler interface {
	StartRoot(root fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if server.classifier == nil {
		return nil, fmt.Errorf("classifier loader is required")
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New(utils.WithMaxPixels(server.cfg.FrameMaxPixels))
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log, middleware.Config{
			RateLimitRPS:   server.cfg.RateLimitRPS,
			RateLimitBurst: server.cfg.RateLimitBurst,
		})
	}

	server.ctx, server.cancel = context.WithCancel(context.Background())

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithAppConfig(cfg *AppConfig) ServerOption {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

func WithClassifier(loader *classifier.Loader) ServerOption {
	return func(s *Server) error {
		s.classifier = loader
		return nil
	}
}

// WithPoseEstimator sets the image frame backend. A nil estimator leaves the
// server in keypoints-only mode.
func WithPoseEstimator(estimator landmark.Estimator) ServerOption {
	return func(s *Server) error {
		s.estimator = estimator
		return nil
	}
}

func WithPredictionSink(sink recognitionService.PredictionSink) ServerOption {
	return func(s *Server) error {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
		return nil
	}
}

func WithSessionTracker(tracker session.Tracker) ServerOption {
	return func(s *Server) error {
		s.tracker = tracker
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		if s.cfg == nil {
			return fmt.Errorf("app config must be set before middleware")
		}
		s.middleware = middleware.New(s.log, middleware.Config{
			RateLimitRPS:   s.cfg.RateLimitRPS,
			RateLimitBurst: s.cfg.RateLimitBurst,
		})
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		if s.cfg == nil {
			return fmt.Errorf("app config must be set before utils")
		}
		s.utils = utils.New(utils.WithMaxPixels(s.cfg.FrameMaxPixels))
		return nil
	}
}

func (s *Server) RegisterHandler() {
	opts := []session.RegistryOption{session.WithDiscreteLimit(s.cfg.MaxDiscreteSessions)}
	if s.tracker != nil {
		opts = append(opts, session.WithTracker(s.tracker))
	}
	s.registry = session.NewRegistry(s.log, s.cfg.SequenceLength, opts...)

	ingestor := ingest.New(s.log, ingest.Config{
		KeypointSize:           s.cfg.KeypointSize,
		MaxWidth:               s.cfg.FrameMaxWidth,
		MaxHeight:              s.cfg.FrameMaxHeight,
		MinDetectionConfidence: s.cfg.MinDetectionConfidence,
		MinTrackingConfidence:  s.cfg.MinTrackingConfidence,
	}, s.estimator, s.utils)

	engine := prediction.New(s.log, prediction.Config{
		Actions:     s.cfg.Actions,
		Threshold:   s.cfg.Threshold(),
		Concurrency: s.cfg.InferenceConcurrency,
		Timeout:     s.cfg.InferenceTimeout,
	}, s.classifier)

	// Recognition Domain
	recognitionServices := recognitionService.NewRecognitionService(s.log, s.registry, ingestor, engine, s.classifier, s.sinks...)
	recognitionHandlers := recognitionHandler.New(s.ctx, s.log, s.validator, s.middleware, recognitionServices, s.utils)

	s.root = recognitionHandlers
	s.handlers = append(s.handlers, recognitionHandlers)
}

func (s *Server) Run() error {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	if s.root != nil {
		s.root.StartRoot(s.engine)
	}

	router := s.engine.Group("/api/v1")
	for _, h := range s.handlers {
		h.Start(router)
	}

	if s.registry != nil && s.cfg.DiscreteSessionIdleTTL > 0 {
		go s.registry.RunReaper(s.ctx, s.cfg.DiscreteSessionIdleTTL, 0)
	}

	s.log.WithFields(logrus.Fields{
		"address":    s.cfg.Address(),
		"actions":    len(s.cfg.Actions),
		"window":     s.cfg.SequenceLength,
		"pose":       s.cfg.PoseBackend,
		"classifier": s.cfg.ClassifierBackend,
	}).Info("Starting GestureConnect server")

	return s.engine.Listen(s.cfg.Address())
}

// Shutdown cancels every in-flight stream and waits up to timeout for open
// requests to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.cancel()
	err := s.engine.ShutdownWithTimeout(timeout)
	if s.registry != nil {
		s.registry.Close()
	}
	return err
}
