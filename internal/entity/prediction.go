package entity

const (
	ActionInsufficientData = "insufficient_data"
	ActionUnknown          = "unknown"
	ActionError            = "error"
)

type PredictionResult struct {
	Action           string             `json:"action"`
	Confidence       float64            `json:"confidence"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
	Timestamp        string             `json:"timestamp,omitempty"`
	Error            string             `json:"error,omitempty"`
}

func InsufficientDataResult() PredictionResult {
	return PredictionResult{
		Action:           ActionInsufficientData,
		Confidence:       0,
		AllProbabilities: map[string]float64{},
	}
}

func ErrorResult(err error) PredictionResult {
	return PredictionResult{
		Action:           ActionError,
		Confidence:       0,
		AllProbabilities: map[string]float64{},
		Error:            err.Error(),
	}
}

// Recognized reports whether the result carries a label that cleared the
// threshold, as opposed to one of the sentinel actions.
func (p PredictionResult) Recognized() bool {
	switch p.Action {
	case ActionInsufficientData, ActionUnknown, ActionError, "":
		return false
	}
	return p.Error == ""
}

// PredictionEvent is what gets published downstream for a recognized action.
type PredictionEvent struct {
	SessionID  string           `json:"session_id"`
	Transport  string           `json:"transport"`
	Action     string           `json:"action"`
	Confidence float64          `json:"confidence"`
	Timestamp  string           `json:"timestamp"`
	Result     PredictionResult `json:"result"`
}
