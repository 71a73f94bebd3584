package pipeline

import (
	"fmt"

	"gocv.io/x/gocv"
)

// DefaultFPS is substituted when a source reports a malformed frame
// rate, guarding the timestamp math against division by zero
const DefaultFPS = 25.0

// Meta holds the probed metadata of a source video
type Meta struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
	// Duration of the source formatted 00:MM:SS
	Duration string
}

// probe reads the source metadata from an open capture, substituting
// the default frame rate when the container reports one <= 1
func probe(cap *gocv.VideoCapture) Meta {

	fps := cap.Get(gocv.VideoCaptureFPS)

	if fps <= 1 {
		fps = DefaultFPS
	}

	frameCount := int(cap.Get(gocv.VideoCaptureFrameCount))

	if frameCount < 0 {
		frameCount = 0
	}

	m := Meta{
		FPS:        fps,
		FrameCount: frameCount,
		Width:      int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(cap.Get(gocv.VideoCaptureFrameHeight)),
	}

	m.Duration = Timecode(float64(frameCount) / fps)

	return m
}

// Timecode formats a position in seconds as 00:MM:SS.  Minutes are not
// rolled over into hours, matching the display format of the events
func Timecode(seconds float64) string {

	if seconds < 0 {
		seconds = 0
	}

	return fmt.Sprintf("00:%02d:%02d", int(seconds)/60, int(seconds)%60)
}
