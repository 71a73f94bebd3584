package track

import (
	"gonum.org/v1/gonum/mat"

	"trackcast/detect"
)

const (
	// DefaultIOUThreshold is the minimum overlap for associating a
	// detection with an existing track
	DefaultIOUThreshold = 0.2
	// DefaultMaxLost is the number of consecutive processed frames a
	// track survives without a matching detection
	DefaultMaxLost = 1
)

// iouTrack is the live matching state for one tracked object
type iouTrack struct {
	id   int
	box  detect.Box
	lost int
}

// IOUTracker associates detections across frames by bounding box overlap
// and assigns persistent track ids.  One instance is owned by a single
// pipeline run, tracker state is never shared between jobs so track ids
// from different jobs can not collide
type IOUTracker struct {
	iouThresh float64
	maxLost   int
	tracks    []*iouTrack
	nextID    int
}

// NewIOUTracker returns a tracking context with the given association
// threshold and lost frame allowance
func NewIOUTracker(iouThresh float64, maxLost int) *IOUTracker {

	if iouThresh <= 0 {
		iouThresh = DefaultIOUThreshold
	}

	if maxLost < 0 {
		maxLost = DefaultMaxLost
	}

	return &IOUTracker{
		iouThresh: iouThresh,
		maxLost:   maxLost,
		nextID:    1,
	}
}

// IOU returns the intersection over union of two boxes
func IOU(a, b detect.Box) float64 {

	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}

	inter := float64((ix2 - ix1) * (iy2 - iy1))
	union := float64(a.Area()+b.Area()) - inter

	if union <= 0 {
		return 0
	}

	return inter / union
}

// Assign matches the frame's detections against live tracks and sets the
// TrackID on each returned detection.  Unmatched detections spawn new
// tracks, detections with a degenerate box are passed through untracked
func (t *IOUTracker) Assign(dets []detect.Detection) []detect.Detection {

	out := make([]detect.Detection, len(dets))
	copy(out, dets)

	matchedDet := make([]bool, len(out))
	matchedTrack := make([]bool, len(t.tracks))

	if len(t.tracks) > 0 && len(out) > 0 {

		// build the track x detection overlap cost matrix
		cost := mat.NewDense(len(t.tracks), len(out), nil)

		for i, trk := range t.tracks {
			for j := range out {
				cost.Set(i, j, IOU(trk.box, out[j].Box))
			}
		}

		// greedy assignment, repeatedly take the best remaining overlap
		// above the threshold
		for {
			bestIOU := t.iouThresh
			bestI, bestJ := -1, -1

			for i := 0; i < len(t.tracks); i++ {
				if matchedTrack[i] {
					continue
				}

				for j := 0; j < len(out); j++ {
					if matchedDet[j] {
						continue
					}

					if v := cost.At(i, j); v > bestIOU {
						bestIOU = v
						bestI, bestJ = i, j
					}
				}
			}

			if bestI < 0 {
				break
			}

			matchedTrack[bestI] = true
			matchedDet[bestJ] = true

			trk := t.tracks[bestI]
			trk.box = out[bestJ].Box
			trk.lost = 0

			id := trk.id
			out[bestJ].TrackID = &id
		}
	}

	// unmatched detections start new tracks
	for j := range out {
		if matchedDet[j] {
			continue
		}

		// a box without area can not be tracked
		if out[j].Box.Area() <= 0 {
			continue
		}

		trk := &iouTrack{
			id:  t.nextID,
			box: out[j].Box,
		}
		t.nextID++

		t.tracks = append(t.tracks, trk)
		matchedTrack = append(matchedTrack, true)

		id := trk.id
		out[j].TrackID = &id
	}

	// age out tracks that went unmatched too long
	kept := t.tracks[:0]

	for i, trk := range t.tracks {
		if i < len(matchedTrack) && matchedTrack[i] {
			kept = append(kept, trk)
			continue
		}

		trk.lost++

		if trk.lost <= t.maxLost {
			kept = append(kept, trk)
		}
	}

	t.tracks = kept

	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
