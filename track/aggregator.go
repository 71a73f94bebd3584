package track

import (
	"sort"

	"trackcast/detect"
)

// HistorySize is the maximum number of most recent bounding boxes kept
// per track summary
const HistorySize = 5

// Summary is the accumulated state of one track over the life of a job.
// Created on first sighting of a track id and updated on every
// subsequent sighting, it is never deleted until the job ends
type Summary struct {
	TrackID            int          `json:"track_id"`
	Class              string       `json:"class"`
	FirstSeenFrame     int          `json:"first_seen_frame"`
	FirstSeenTimestamp string       `json:"first_seen_timestamp"`
	LastSeenFrame      int          `json:"last_seen_frame"`
	LastSeenTimestamp  string       `json:"last_seen_timestamp"`
	MaxConfidence      float64      `json:"max_confidence"`
	DetectionCount     int          `json:"detection_count"`
	BboxHistory        []detect.Box `json:"bbox_history"`
}

// Aggregator maintains the track id to summary mapping for one job.  It
// has a single writer, the pipeline that owns the job, so access is not
// synchronised
type Aggregator struct {
	tracks map[int]*Summary
}

// NewAggregator returns an empty track summary mapping
func NewAggregator() *Aggregator {
	return &Aggregator{
		tracks: make(map[int]*Summary),
	}
}

// Upsert folds a detection into its track summary, creating the summary
// on first sight of the track id.  Detections without a track id are
// ignored
func (a *Aggregator) Upsert(det detect.Detection) {

	if det.TrackID == nil {
		return
	}

	id := *det.TrackID

	s, exists := a.tracks[id]

	if !exists {
		// the class recorded at creation is kept even if the engine
		// later reclassifies the track
		a.tracks[id] = &Summary{
			TrackID:            id,
			Class:              det.Class,
			FirstSeenFrame:     det.FrameIndex,
			FirstSeenTimestamp: det.Timestamp,
			LastSeenFrame:      det.FrameIndex,
			LastSeenTimestamp:  det.Timestamp,
			MaxConfidence:      det.Confidence,
			DetectionCount:     1,
			BboxHistory:        []detect.Box{det.Box},
		}
		return
	}

	s.LastSeenFrame = det.FrameIndex
	s.LastSeenTimestamp = det.Timestamp

	if det.Confidence > s.MaxConfidence {
		s.MaxConfidence = det.Confidence
	}

	s.DetectionCount++

	// append sighting and drop the oldest beyond the history size
	s.BboxHistory = append(s.BboxHistory, det.Box)

	if len(s.BboxHistory) > HistorySize {
		s.BboxHistory = s.BboxHistory[len(s.BboxHistory)-HistorySize:]
	}
}

// Len returns the number of distinct tracks seen
func (a *Aggregator) Len() int {
	return len(a.tracks)
}

// Snapshot returns read-only copies of all track summaries ordered by
// track id
func (a *Aggregator) Snapshot() []Summary {

	out := make([]Summary, 0, len(a.tracks))

	for _, s := range a.tracks {
		cp := *s
		cp.BboxHistory = append([]detect.Box(nil), s.BboxHistory...)
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TrackID < out[j].TrackID
	})

	return out
}
