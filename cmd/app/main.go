package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/internal/config"
	"github.com/yashindibhagya/GestureConnect/pkg/classifier"
	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
	"github.com/yashindibhagya/GestureConnect/pkg/mqtt"
	"github.com/yashindibhagya/GestureConnect/pkg/poseworker"
	"github.com/yashindibhagya/GestureConnect/pkg/redis"
	websocketPkg "github.com/yashindibhagya/GestureConnect/pkg/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Fatalf("Error loading .env file: %v", err)
	}
	logger := log.NewLogger()

	validator := config.NewValidator()
	appConfig, err := config.LoadAppConfig(validator)
	if err != nil {
		logger.Fatal(err)
	}

	loader := classifier.NewLoader(newClassifierOpener(logger, appConfig))
	loadClassifier(logger, appConfig, loader)

	estimator, err := newPoseEstimator(logger, appConfig)
	if err != nil {
		logger.Fatal(err)
	}

	options := []config.ServerOption{
		config.WithFiber(config.NewFiber(logger)),
		config.WithLogger(logger),
		config.WithValidator(validator),
		config.WithAppConfig(appConfig),
		config.WithMiddleware(),
		config.WithUtils(),
		config.WithClassifier(loader),
		config.WithPoseEstimator(estimator),
	}

	var closers []func() error
	switch appConfig.PredictionSink {
	case "redis":
		redisClient := redis.New(logger, redis.Config{
			Address:  appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
			Channel:  appConfig.RedisChannel,
		})
		options = append(options, config.WithPredictionSink(redisClient), config.WithSessionTracker(redisClient))
		closers = append(closers, redisClient.Close)
	case "mqtt":
		emitter, err := mqtt.New(logger, mqtt.Config{
			Broker:   appConfig.MQTTBroker,
			ClientID: appConfig.MQTTClientID,
			Topic:    appConfig.MQTTTopic,
		})
		if err != nil {
			logger.Fatal(err)
		}
		options = append(options, config.WithPredictionSink(emitter))
		closers = append(closers, emitter.Close)
	}

	server, err := config.NewServer(options...)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	if err := server.Shutdown(shutdownTimeout); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
	if estimator != nil {
		closers = append(closers, estimator.Close)
	}
	closers = append(closers, loader.Close)
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warnf("Error releasing resource: %v", err)
		}
	}
}

func newClassifierOpener(logger *logrus.Logger, cfg *config.AppConfig) classifier.Opener {
	switch cfg.ClassifierBackend {
	case classifier.BackendTFServing:
		return classifier.OpenTFServing(logger, cfg.ClassifierLocation, cfg.ClassifierTimeout)
	case classifier.BackendONNX:
		return classifier.OpenONNX(cfg.ClassifierLocation)
	default:
		logger.Warn("Using the uniform classifier; every prediction will be unknown unless the threshold is very low")
		return classifier.OpenUniform(len(cfg.Actions))
	}
}

// loadClassifier loads the classifier once at startup. A failure is fatal only
// when CLASSIFIER_REQUIRED is set; otherwise the next prediction retries.
func loadClassifier(logger *logrus.Logger, cfg *config.AppConfig, loader *classifier.Loader) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClassifierTimeout)
	defer cancel()

	if _, err := loader.Get(ctx); err != nil {
		if cfg.ClassifierRequired {
			logger.Fatalf("Failed to load classifier: %v", err)
		}
		logger.Warnf("Classifier not loaded, predictions will report the failure until it loads: %v", err)
		return
	}

	logger.WithFields(logrus.Fields{
		"backend":  cfg.ClassifierBackend,
		"location": cfg.ClassifierLocation,
	}).Info("Classifier loaded")
}

func newPoseEstimator(logger *logrus.Logger, cfg *config.AppConfig) (landmark.Estimator, error) {
	switch cfg.PoseBackend {
	case landmark.BackendWebsocket:
		return websocketPkg.NewPoseEstimatorClient(logger, cfg.PoseEstimatorURL, cfg.PosePoolSize), nil
	case landmark.BackendProcess:
		worker, err := poseworker.New(logger, cfg.PoseWorkerArgs())
		if err != nil {
			return nil, err
		}
		return worker, nil
	default:
		logger.Info("No pose estimator configured; only keypoint frames are accepted")
		return nil, nil
	}
}
