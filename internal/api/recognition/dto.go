package recognition

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
)

const (
	SessionHeader = "X-Session-ID"

	StatusSuccess   = "success"
	StatusConnected = "connected"

	LivenessMessage  = "GestureConnect API is running"
	ResetMessage     = "Sequence buffer reset"
	ConnectedMessage = "Connected to GestureConnect WebSocket server"
)

// Inbound streaming message types.
const (
	MessageTypeFrame      = "frame"
	MessageTypeReset      = "reset"
	MessageTypeGetActions = "get_actions"
)

// Outbound streaming message types.
const (
	MessageTypeConnectionStatus = "connection_status"
	MessageTypePrediction       = "prediction"
	MessageTypeResetStatus      = "reset_status"
	MessageTypeActions          = "actions"
	MessageTypeError            = "error"
)

type KeypointsRequest struct {
	FrameIndex int       `json:"frame_index"`
	Keypoints  []float32 `json:"keypoints" validate:"required,min=1"`
}

type FrameResponse struct {
	Status     string `json:"status"`
	FrameIndex int    `json:"frame_index"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ActionsResponse struct {
	Actions []string `json:"actions"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type SessionsResponse struct {
	Count    int                  `json:"count"`
	Sessions []entity.SessionInfo `json:"sessions"`
}

type HealthResponse struct {
	Status           string       `json:"status"`
	ClassifierLoaded bool         `json:"classifier_loaded"`
	Sessions         int          `json:"sessions"`
	Actions          int          `json:"actions"`
	Sinks            []SinkHealth `json:"sinks,omitempty"`
}

type SinkHealth struct {
	Name      string `json:"name"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// StreamRequest is one inbound websocket message. Data stays raw until the
// message type decides how to read it.
type StreamRequest struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data,omitempty"`
}

type StreamResponse struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type ConnectionStatus struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}
