package render

import (
	"testing"

	"gocv.io/x/gocv"

	"trackcast/detect"
)

func TestTrackColor(t *testing.T) {

	if TrackColor(0) != trackColors[0] {
		t.Errorf("TrackColor(0) = %v; want %v", TrackColor(0), trackColors[0])
	}

	// ids cycle through the palette
	if TrackColor(len(trackColors)) != trackColors[0] {
		t.Errorf("TrackColor(%d) = %v; want %v", len(trackColors),
			TrackColor(len(trackColors)), trackColors[0])
	}

	// the same id always maps to the same color
	if TrackColor(7) != TrackColor(7) {
		t.Error("TrackColor not stable for the same id")
	}

	// negative ids must not panic
	_ = TrackColor(-3)
}

func TestDetectionBoxes(t *testing.T) {

	img := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer img.Close()

	id := 1
	dets := []detect.Detection{
		{
			Class:      "person",
			Confidence: 0.91,
			Box:        detect.Box{X1: 20, Y1: 30, X2: 120, Y2: 200},
			TrackID:    &id,
		},
		{
			// provisional detection without a track id
			Class:      "car",
			Confidence: 0.65,
			Box:        detect.Box{X1: 150, Y1: 40, X2: 300, Y2: 140},
		},
	}

	DetectionBoxes(&img, dets, DefaultFont(), 2)

	// the box edge pixels took the track color
	clr := TrackColor(id)
	v := img.GetVecbAt(30, 20)

	// gocv stores BGR
	if v[0] != clr.B || v[1] != clr.G || v[2] != clr.R {
		t.Errorf("box corner pixel = %v; want B:%d G:%d R:%d",
			v, clr.B, clr.G, clr.R)
	}
}

func TestDetectionBoxesEmpty(t *testing.T) {

	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	// no detections must be a no-op, not a panic
	DetectionBoxes(&img, nil, DefaultFont(), 2)
}
