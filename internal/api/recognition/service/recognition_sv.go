package recognitionService

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yashindibhagya/GestureConnect/internal/api/recognition"
	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/internal/ingest"
	"github.com/yashindibhagya/GestureConnect/internal/session"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
)

const publishTimeout = 2 * time.Second

func (s *recognitionService) OpenStream() *session.Session {
	return s.registry.Create(entity.TransportStreaming)
}

func (s *recognitionService) CloseStream(id string) {
	s.registry.Destroy(id)
}

// DiscreteSession returns the discrete session for id, creating it if needed.
// Ids of streaming sessions are refused so that HTTP callers can never touch
// a live stream's window.
func (s *recognitionService) DiscreteSession(id string) (*session.Session, error) {
	if id == "" {
		id = session.DefaultSessionID
	}

	sess, err := s.registry.GetOrCreate(id, entity.TransportDiscrete)
	switch {
	case errors.Is(err, session.ErrTransportMismatch):
		return nil, recognition.ErrSessionInUse
	case errors.Is(err, session.ErrSessionLimit):
		return nil, recognition.ErrTooManySessions
	case err != nil:
		return nil, fmt.Errorf("%w: %v", recognition.ErrInternalServerError, err)
	}
	return sess, nil
}

func (s *recognitionService) EndDiscreteSession(id string) error {
	if id == "" {
		id = session.DefaultSessionID
	}

	sess, err := s.registry.Get(id)
	if err != nil || sess.Transport() != entity.TransportDiscrete {
		return recognition.ErrSessionNotFound
	}

	if !s.registry.Destroy(id) {
		return recognition.ErrSessionNotFound
	}
	return nil
}

// SubmitFrame ingests one frame into the session's window and returns the
// resulting window length.
func (s *recognitionService) SubmitFrame(ctx context.Context, sess *session.Session, frame entity.Frame) (int, error) {
	vector, err := s.ingestor.Ingest(ctx, frame)
	if err != nil {
		return 0, translateIngestError(err)
	}

	return sess.Push(vector), nil
}

func (s *recognitionService) Predict(ctx context.Context, sess *session.Session) entity.PredictionResult {
	result := s.engine.Predict(ctx, sess.Sequence())

	if result.Recognized() {
		s.publish(ctx, sess, result)
	}

	return result
}

func (s *recognitionService) Reset(sess *session.Session) {
	sess.Reset()
}

func (s *recognitionService) Actions() []string {
	return s.engine.Actions()
}

func (s *recognitionService) Sessions() []entity.SessionInfo {
	return s.registry.List()
}

func (s *recognitionService) Health() recognition.HealthResponse {
	loaded := false
	if s.classifier != nil {
		loaded = s.classifier.Loaded()
	}

	var sinks []recognition.SinkHealth
	for _, sink := range s.sinks {
		reporter, ok := sink.(SinkReporter)
		if !ok {
			continue
		}
		published, failed := reporter.Stats()
		sinks = append(sinks, recognition.SinkHealth{
			Name:      reporter.Name(),
			Published: published,
			Failed:    failed,
		})
	}

	return recognition.HealthResponse{
		Status:           "ok",
		ClassifierLoaded: loaded,
		Sessions:         s.registry.Len(),
		Actions:          len(s.engine.Actions()),
		Sinks:            sinks,
	}
}

// publish fans the event out to every sink without holding up the caller.
func (s *recognitionService) publish(ctx context.Context, sess *session.Session, result entity.PredictionResult) {
	if len(s.sinks) == 0 {
		return
	}

	event := entity.PredictionEvent{
		SessionID:  sess.ID(),
		Transport:  sess.Transport().String(),
		Action:     result.Action,
		Confidence: result.Confidence,
		Timestamp:  result.Timestamp,
		Result:     result,
	}

	for _, sink := range s.sinks {
		go func(sink PredictionSink) {
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			defer cancel()

			if err := sink.Publish(pubCtx, event); err != nil {
				s.log.WithFields(log.Fields{
					"session_id": event.SessionID,
					"action":     event.Action,
					"error":      err.Error(),
				}).Warn("Failed to publish prediction")
			}
		}(sink)
	}
}

func translateIngestError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrDecode):
		return fmt.Errorf("%w: %v", recognition.ErrDecode, err)
	case errors.Is(err, ingest.ErrKeypointSize):
		return fmt.Errorf("%w: %v", recognition.ErrKeypointSize, err)
	case errors.Is(err, ingest.ErrNoEstimator):
		return recognition.ErrImagesUnsupported
	case errors.Is(err, ingest.ErrEstimatorFailed):
		return fmt.Errorf("%w: %v", recognition.ErrPoseEstimation, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", recognition.ErrInternalServerError, err)
	}
}
