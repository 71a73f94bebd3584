package detect

import (
	"encoding/json"
	"fmt"
	"math"
)

// Box is an axis-aligned bounding box in pixel coordinates where
// (X1,Y1) is the top left corner and (X2,Y2) the bottom right
type Box struct {
	X1, Y1, X2, Y2 int
}

// NewBox returns a Box with float coordinates rounded to the nearest
// pixel and corners ordered so X1 <= X2 and Y1 <= Y2
func NewBox(x1, y1, x2, y2 float64) Box {
	b := Box{
		X1: int(math.Round(x1)),
		Y1: int(math.Round(y1)),
		X2: int(math.Round(x2)),
		Y2: int(math.Round(y2)),
	}

	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}

	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}

	return b
}

// Width returns the box width in pixels
func (b Box) Width() int {
	return b.X2 - b.X1
}

// Height returns the box height in pixels
func (b Box) Height() int {
	return b.Y2 - b.Y1
}

// Area returns the box area in pixels
func (b Box) Area() int {
	return b.Width() * b.Height()
}

// MarshalJSON encodes the box as a [x1, y1, x2, y2] array
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON decodes a [x1, y1, x2, y2] array into the box
func (b *Box) UnmarshalJSON(data []byte) error {
	var coords [4]int

	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("error decoding bbox: %w", err)
	}

	b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// Detection is a single detector output for one frame.  It is immutable
// once produced by the pipeline, copies of it are folded into event
// payloads and track summaries
type Detection struct {
	// Class is the model label of the detected object.  For a tracked
	// object the class recorded at track creation is kept for the life
	// of the track
	Class string `json:"class"`
	// Confidence of the detection in [0,1] rounded to 2 decimal places
	Confidence float64 `json:"confidence"`
	// Box is the bounding box in source frame pixel coordinates
	Box Box `json:"bbox"`
	// TrackID is the persistent track identifier, nil when the engine
	// could not associate the detection with a prior frame
	TrackID *int `json:"track_id"`
	// FrameIndex is the 1-based source frame the detection was made on
	FrameIndex int `json:"frame"`
	// Timestamp is the frame position in the video formatted 00:MM:SS
	Timestamp string `json:"timestamp"`
}

// RoundConf rounds a raw engine confidence to 2 decimal places
func RoundConf(conf float64) float64 {
	return math.Round(conf*100) / 100
}
