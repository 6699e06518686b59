package model

// WebSocket message types
const (
	WSMessageTypeLog    = "log"
	WSMessageTypeStatus = "status"
	WSMessageTypeOutput = "output"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSLogMessage carries one captured log line
type WSLogMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WSStatusMessage announces a job status change. RetryCount is only set
// when a failed run has been rescheduled.
type WSStatusMessage struct {
	Type       string    `json:"type"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	RetryCount *int      `json:"retry_count,omitempty"`
}

// WSOutputMessage delivers the parsed output of a completed run
type WSOutputMessage struct {
	Type    string     `json:"type"`
	Payload *JobOutput `json:"payload"`
}

// NewLogMessage builds a log frame
func NewLogMessage(message string) WSLogMessage {
	return WSLogMessage{Type: WSMessageTypeLog, Message: message}
}

// NewStatusMessage builds a status frame
func NewStatusMessage(status JobStatus, errMsg string) WSStatusMessage {
	return WSStatusMessage{Type: WSMessageTypeStatus, Status: status, Error: errMsg}
}

// NewRetryMessage builds a status frame for a rescheduled job
func NewRetryMessage(retryCount int) WSStatusMessage {
	return WSStatusMessage{Type: WSMessageTypeStatus, Status: JobStatusPending, RetryCount: &retryCount}
}

// NewOutputMessage builds an output frame
func NewOutputMessage(payload *JobOutput) WSOutputMessage {
	return WSOutputMessage{Type: WSMessageTypeOutput, Payload: payload}
}
