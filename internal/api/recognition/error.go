package recognition

import (
	"net/http"

	"github.com/yashindibhagya/GestureConnect/pkg/response"
)

var (
	ErrDecode              = response.NewError(http.StatusBadRequest, "malformed frame payload")
	ErrKeypointSize        = response.NewError(http.StatusBadRequest, "keypoint vector has the wrong length")
	ErrMalformedMessage    = response.NewError(http.StatusBadRequest, "malformed message")
	ErrUnknownMessageType  = response.NewError(http.StatusBadRequest, "unknown message type")
	ErrSessionNotFound     = response.NewError(http.StatusNotFound, "session not found")
	ErrSessionInUse        = response.NewError(http.StatusConflict, "session id belongs to a streaming connection")
	ErrTooManySessions     = response.NewError(http.StatusServiceUnavailable, "too many discrete sessions")
	ErrPoseEstimation      = response.NewError(http.StatusBadGateway, "pose estimation failed")
	ErrImagesUnsupported   = response.NewError(http.StatusServiceUnavailable, "image frames are not supported without a pose estimator")
	ErrInternalServerError = response.NewError(http.StatusInternalServerError, "internal server error")
)
