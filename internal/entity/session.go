package entity

import "time"

type TransportKind uint8

const (
	TransportUnknown   TransportKind = 0
	TransportDiscrete  TransportKind = 1
	TransportStreaming TransportKind = 2
)

var TransportKindMap = map[TransportKind]string{
	TransportDiscrete:  "discrete",
	TransportStreaming: "streaming",
}

func (t TransportKind) String() string {
	return TransportKindMap[t]
}

func (t TransportKind) Value() uint8 {
	return uint8(t)
}

type SessionInfo struct {
	ID             string    `json:"id"`
	Transport      string    `json:"transport"`
	WindowLength   int       `json:"window_length"`
	WindowCapacity int       `json:"window_capacity"`
	FramesIngested uint64    `json:"frames_ingested"`
	CreatedAt      time.Time `json:"created_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}
