package recognitionService

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/yashindibhagya/GestureConnect/internal/api/recognition"
	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/internal/prediction"
	"github.com/yashindibhagya/GestureConnect/internal/session"
)

type IRecognitionService interface {
	OpenStream() *session.Session
	CloseStream(id string)
	DiscreteSession(id string) (*session.Session, error)
	EndDiscreteSession(id string) error
	SubmitFrame(ctx context.Context, s *session.Session, frame entity.Frame) (int, error)
	Predict(ctx context.Context, s *session.Session) entity.PredictionResult
	Reset(s *session.Session)
	Actions() []string
	Sessions() []entity.SessionInfo
	Health() recognition.HealthResponse
}

// PredictionSink receives every prediction that resolved to a real label.
type PredictionSink interface {
	Publish(ctx context.Context, event entity.PredictionEvent) error
}

// SinkReporter is implemented by sinks that count their deliveries.
type SinkReporter interface {
	Name() string
	Stats() (published, failed uint64)
}

type ClassifierStatus interface {
	Loaded() bool
}

type Ingestor interface {
	Ingest(ctx context.Context, frame entity.Frame) (entity.KeypointVector, error)
}

type Predictor interface {
	Predict(ctx context.Context, seq prediction.Sequence) entity.PredictionResult
	Actions() []string
}

type recognitionService struct {
	log        *logrus.Logger
	registry   *session.Registry
	ingestor   Ingestor
	engine     Predictor
	classifier ClassifierStatus
	sinks      []PredictionSink
}

func NewRecognitionService(
	log *logrus.Logger,
	registry *session.Registry,
	ingestor Ingestor,
	engine Predictor,
	classifier ClassifierStatus,
	sinks ...PredictionSink,
) IRecognitionService {
	return &recognitionService{
		log:        log,
		registry:   registry,
		ingestor:   ingestor,
		engine:     engine,
		classifier: classifier,
		sinks:      sinks,
	}
}
