package recognitionHandler

import (
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"

	"github.com/yashindibhagya/GestureConnect/internal/api/recognition"
	"github.com/yashindibhagya/GestureConnect/internal/entity"
	contextPkg "github.com/yashindibhagya/GestureConnect/pkg/context"
	"github.com/yashindibhagya/GestureConnect/pkg/handlerUtil"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
)

var imageFields = []string{"file", "image"}

func (h *RecognitionHandler) SubmitFrame(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	image, err := h.readImage(ctx)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "read_image")
	}

	sess, err := h.recognitionService.DiscreteSession(ctx.Get(recognition.SessionHeader))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "select_session")
	}

	log.WithRequestID(c).WithFields(log.Fields{
		"session_id": sess.ID(),
		"image_size": len(image),
	}).Debug("Processing frame upload")

	frameIndex, err := h.recognitionService.SubmitFrame(c, sess, entity.NewEncodedImageFrame(image))
	if err != nil {
		if c.Err() != nil {
			return errHandler.HandleRequestTimeout(ctx)
		}
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "submit_frame")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, recognition.FrameResponse{
		Status:     recognition.StatusSuccess,
		FrameIndex: frameIndex,
	})
}

// readImage takes the image from a multipart "file" or "image" field, or
// else from the raw request body.
func (h *RecognitionHandler) readImage(ctx *fiber.Ctx) ([]byte, error) {
	if strings.HasPrefix(string(ctx.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		for _, field := range imageFields {
			file, err := ctx.FormFile(field)
			if err != nil {
				continue
			}

			if err := h.utils.ValidateImageFile(file); err != nil {
				return nil, fmt.Errorf("%w: %v", recognition.ErrDecode, err)
			}

			content, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", recognition.ErrDecode, err)
			}
			defer content.Close()

			data, err := io.ReadAll(content)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", recognition.ErrDecode, err)
			}
			return data, nil
		}
		return nil, fmt.Errorf("%w: no image field in form", recognition.ErrDecode)
	}

	body := ctx.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", recognition.ErrDecode)
	}

	data := make([]byte, len(body))
	copy(data, body)
	return data, nil
}

func (h *RecognitionHandler) SubmitKeypoints(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	var req recognition.KeypointsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fmt.Errorf("%w: %v", recognition.ErrDecode, err), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	sess, err := h.recognitionService.DiscreteSession(ctx.Get(recognition.SessionHeader))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "select_session")
	}

	frameIndex, err := h.recognitionService.SubmitFrame(c, sess, entity.NewRawKeypointsFrame(req.Keypoints))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "submit_keypoints")
	}

	h.log.WithFields(log.Fields{
		"request_id":   requestID,
		"session_id":   sess.ID(),
		"client_index": req.FrameIndex,
		"frame_index":  frameIndex,
	}).Debug("Keypoints accepted")

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, recognition.FrameResponse{
		Status:     recognition.StatusSuccess,
		FrameIndex: frameIndex,
	})
}

func (h *RecognitionHandler) GetPrediction(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	sess, err := h.recognitionService.DiscreteSession(ctx.Get(recognition.SessionHeader))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "select_session")
	}
	result := h.recognitionService.Predict(c, sess)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"session_id": sess.ID(),
		"action":     result.Action,
		"confidence": result.Confidence,
	}).Info("Prediction served")

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
}

func (h *RecognitionHandler) Reset(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)

	sess, err := h.recognitionService.DiscreteSession(ctx.Get(recognition.SessionHeader))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "select_session")
	}
	h.recognitionService.Reset(sess)

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, recognition.StatusResponse{
		Status: recognition.StatusSuccess,
	})
}

func (h *RecognitionHandler) GetActions(ctx *fiber.Ctx) error {
	errHandler := handlerUtil.New(h.log)

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, recognition.ActionsResponse{
		Actions: h.recognitionService.Actions(),
	})
}

func (h *RecognitionHandler) EndSession(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)

	if err := h.recognitionService.EndDiscreteSession(ctx.Get(recognition.SessionHeader)); err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "end_session")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, recognition.StatusResponse{
		Status: recognition.StatusSuccess,
	})
}

func (h *RecognitionHandler) ListSessions(ctx *fiber.Ctx) error {
	errHandler := handlerUtil.New(h.log)

	sessions := h.recognitionService.Sessions()
	return errHandler.HandleSuccess(ctx, fiber.StatusOK, recognition.SessionsResponse{
		Count:    len(sessions),
		Sessions: sessions,
	})
}

func (h *RecognitionHandler) Liveness(ctx *fiber.Ctx) error {
	return ctx.JSON(recognition.MessageResponse{Message: recognition.LivenessMessage})
}

func (h *RecognitionHandler) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(h.recognitionService.Health())
}
