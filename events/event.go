package events

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"trackcast/detect"
	"trackcast/track"
)

// Event names published to a job's room.  For a single job the room sees
// JobStarted, then interleaved FrameDetected/Progress, then exactly one
// terminal JobCompleted or JobFailed.
const (
	JobStarted    = "job_started"
	FrameDetected = "frame_detected"
	Progress      = "progress"
	JobCompleted  = "job_completed"
	JobFailed     = "job_failed"
)

// Diagnostic event names, not part of the detection contract
const (
	ServerMessage = "server_message"
	PongClient    = "pong_client"
	BroadcastMsg  = "broadcast_msg"
	RoomMsg       = "room_msg"
)

// StartedPayload announces that processing of an uploaded video began
type StartedPayload struct {
	Filename       string `json:"filename"`
	ResultFilename string `json:"result_filename"`
	SessionID      string `json:"session_id"`
	Message        string `json:"message"`
}

// FramePayload carries the detections of one processed frame along with
// a compressed preview of the annotated frame
type FramePayload struct {
	FrameIndex  int                `json:"frame_index"`
	Timestamp   string             `json:"timestamp"`
	ImageBase64 string             `json:"image_base64"`
	Detections  []detect.Detection `json:"detections"`
}

// ProgressPayload reports how far through the source video a job is
type ProgressPayload struct {
	Progress        float64 `json:"progress"`
	FrameIndex      int     `json:"frame_index"`
	ProcessedFrames int     `json:"processed_frames"`
	TotalFrames     int     `json:"total_frames"`
	SessionID       string  `json:"session_id"`
}

// CompletedPayload is the terminal event of a successful job
type CompletedPayload struct {
	Filename       string          `json:"filename"`
	ResultFilename string          `json:"result_filename"`
	ResultPath     string          `json:"result_path"`
	UniqueTracks   int             `json:"unique_tracks"`
	Tracks         []track.Summary `json:"tracks"`
	Message        string          `json:"message"`
	SessionID      string          `json:"session_id"`
}

// FailedPayload is the terminal event of a failed job
type FailedPayload struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// TextPayload is used by the diagnostic events
type TextPayload struct {
	Text string `json:"text"`
	Room string `json:"room,omitempty"`
}

// Marshal encodes an event and its payload into the wire envelope
// {"event": ..., "data": {...}}.  The payload is serialised once and
// spliced in raw so fanning out to many subscribers reuses the bytes
func Marshal(event string, payload interface{}) ([]byte, error) {

	data, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("error encoding %s payload: %w", event, err)
	}

	env, err := sjson.SetBytes([]byte(`{}`), "event", event)

	if err != nil {
		return nil, fmt.Errorf("error building %s envelope: %w", event, err)
	}

	env, err = sjson.SetRawBytes(env, "data", data)

	if err != nil {
		return nil, fmt.Errorf("error building %s envelope: %w", event, err)
	}

	return env, nil
}
