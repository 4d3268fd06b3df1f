package recognitionHandler

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/yashindibhagya/GestureConnect/internal/api/recognition"
	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/internal/session"
	contextPkg "github.com/yashindibhagya/GestureConnect/pkg/context"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
)

// handleStream runs one streaming session. Messages are handled strictly one
// at a time and every message gets exactly one reply.
func (h *RecognitionHandler) handleStream(c *websocket.Conn) {
	sess := h.recognitionService.OpenStream()
	ctx, cancel := context.WithCancel(contextPkg.WithSessionID(h.ctx, sess.ID()))

	fields := log.Fields{
		"session_id":  sess.ID(),
		"remote_addr": c.RemoteAddr().String(),
	}
	h.log.WithFields(fields).Info("Recognition WebSocket client connected")

	defer func() {
		cancel()
		h.recognitionService.CloseStream(sess.ID())
		h.log.WithFields(fields).Info("Recognition WebSocket client disconnected")
	}()

	// A server shutdown closes the connection so the blocked read returns.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			h.log.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	if err := c.WriteJSON(recognition.ConnectionStatus{
		Type:      recognition.MessageTypeConnectionStatus,
		Status:    recognition.StatusConnected,
		Message:   recognition.ConnectedMessage,
		SessionID: sess.ID(),
	}); err != nil {
		h.log.WithFields(fields).Errorf("Error sending connection status: %v", err)
		return
	}

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.WithFields(fields).Errorf("Recognition WebSocket error: %v", err)
			}
			break
		}

		reply := h.handleStreamMessage(ctx, sess, messageType, message)

		if err := c.WriteJSON(reply); err != nil {
			h.log.WithFields(fields).Errorf("Error writing JSON response: %v", err)
			break
		}
	}
}

func (h *RecognitionHandler) handleStreamMessage(ctx context.Context, sess *session.Session, messageType int, message []byte) (reply recognition.StreamResponse) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(log.Fields{
				"session_id": sess.ID(),
				"panic":      fmt.Sprint(r),
			}).Error("Recovered from panic while handling stream message")
			reply = errorReply(fmt.Errorf("%w: %v", recognition.ErrInternalServerError, r))
		}
	}()

	if messageType == websocket.BinaryMessage {
		return h.streamFrame(ctx, sess, entity.NewEncodedImageFrame(message))
	}

	var req recognition.StreamRequest
	if err := jsoniter.Unmarshal(message, &req); err != nil {
		return errorReply(fmt.Errorf("%w: %v", recognition.ErrMalformedMessage, err))
	}

	switch req.Type {
	case recognition.MessageTypeFrame:
		frame, err := h.frameFromData(req.Data)
		if err != nil {
			return errorReply(err)
		}
		return h.streamFrame(ctx, sess, frame)

	case recognition.MessageTypeReset:
		h.recognitionService.Reset(sess)
		return recognition.StreamResponse{
			Type: recognition.MessageTypeResetStatus,
			Data: recognition.StatusResponse{
				Status:  recognition.StatusSuccess,
				Message: recognition.ResetMessage,
			},
		}

	case recognition.MessageTypeGetActions:
		return recognition.StreamResponse{
			Type: recognition.MessageTypeActions,
			Data: recognition.ActionsResponse{Actions: h.recognitionService.Actions()},
		}

	default:
		return errorReply(fmt.Errorf("%w: %q", recognition.ErrUnknownMessageType, req.Type))
	}
}

// streamFrame ingests one frame and always answers with a prediction.
func (h *RecognitionHandler) streamFrame(ctx context.Context, sess *session.Session, frame entity.Frame) recognition.StreamResponse {
	if _, err := h.recognitionService.SubmitFrame(ctx, sess, frame); err != nil {
		h.log.WithFields(log.Fields{
			"session_id": sess.ID(),
			"frame_kind": frame.Kind.String(),
			"error":      err.Error(),
		}).Warn("Frame rejected")
		return errorReply(err)
	}

	return recognition.StreamResponse{
		Type: recognition.MessageTypePrediction,
		Data: h.recognitionService.Predict(ctx, sess),
	}
}

// frameFromData tags the payload of a frame message: a JSON array is raw
// keypoints and a JSON string is a base64 encoded image.
func (h *RecognitionHandler) frameFromData(data jsoniter.RawMessage) (entity.Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return entity.Frame{}, fmt.Errorf("%w: frame message has no data", recognition.ErrDecode)
	}

	switch trimmed[0] {
	case '[':
		var keypoints []float32
		if err := jsoniter.Unmarshal(trimmed, &keypoints); err != nil {
			return entity.Frame{}, fmt.Errorf("%w: %v", recognition.ErrDecode, err)
		}
		return entity.NewRawKeypointsFrame(keypoints), nil

	case '"':
		var encoded string
		if err := jsoniter.Unmarshal(trimmed, &encoded); err != nil {
			return entity.Frame{}, fmt.Errorf("%w: %v", recognition.ErrDecode, err)
		}
		image, err := h.utils.DecodeBase64Image(encoded)
		if err != nil {
			return entity.Frame{}, fmt.Errorf("%w: %v", recognition.ErrDecode, err)
		}
		return entity.NewEncodedImageFrame(image), nil

	default:
		return entity.Frame{}, fmt.Errorf("%w: frame data must be a keypoint array or a base64 string", recognition.ErrDecode)
	}
}

func errorReply(err error) recognition.StreamResponse {
	return recognition.StreamResponse{
		Type:    recognition.MessageTypeError,
		Message: err.Error(),
	}
}
