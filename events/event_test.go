package events

import (
	"testing"

	"github.com/tidwall/gjson"

	"trackcast/detect"
)

func TestMarshalEnvelope(t *testing.T) {

	buf, err := Marshal(JobStarted, StartedPayload{
		Filename:       "abc_video.mp4",
		ResultFilename: "result_abc_video.webm",
		SessionID:      "sess-1",
		Message:        "Video processing has started.",
	})

	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if !gjson.ValidBytes(buf) {
		t.Fatalf("invalid JSON: %s", buf)
	}

	if got := gjson.GetBytes(buf, "event").String(); got != JobStarted {
		t.Errorf("event = %q; want %q", got, JobStarted)
	}

	if got := gjson.GetBytes(buf, "data.filename").String(); got != "abc_video.mp4" {
		t.Errorf("data.filename = %q; want abc_video.mp4", got)
	}

	if got := gjson.GetBytes(buf, "data.session_id").String(); got != "sess-1" {
		t.Errorf("data.session_id = %q; want sess-1", got)
	}
}

func TestMarshalFramePayload(t *testing.T) {

	id := 2
	buf, err := Marshal(FrameDetected, FramePayload{
		FrameIndex:  30,
		Timestamp:   "00:00:01",
		ImageBase64: "aGVsbG8=",
		Detections: []detect.Detection{
			{
				Class:      "person",
				Confidence: 0.91,
				Box:        detect.Box{X1: 1, Y1: 2, X2: 3, Y2: 4},
				TrackID:    &id,
				FrameIndex: 30,
				Timestamp:  "00:00:01",
			},
		},
	})

	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if got := gjson.GetBytes(buf, "data.frame_index").Int(); got != 30 {
		t.Errorf("data.frame_index = %d; want 30", got)
	}

	dets := gjson.GetBytes(buf, "data.detections")

	if !dets.IsArray() || len(dets.Array()) != 1 {
		t.Fatalf("data.detections = %s; want array of 1", dets.Raw)
	}

	d := dets.Array()[0]

	if got := d.Get("track_id").Int(); got != 2 {
		t.Errorf("track_id = %d; want 2", got)
	}

	if got := d.Get("bbox").Raw; got != "[1,2,3,4]" {
		t.Errorf("bbox = %s; want [1,2,3,4]", got)
	}
}

func TestMarshalEmptyDetections(t *testing.T) {

	buf, err := Marshal(FrameDetected, FramePayload{
		FrameIndex: 1,
		Timestamp:  "00:00:00",
		Detections: []detect.Detection{},
	})

	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// an empty frame carries [], never null
	if got := gjson.GetBytes(buf, "data.detections").Raw; got != "[]" {
		t.Errorf("data.detections = %s; want []", got)
	}
}

func TestMarshalUnencodablePayload(t *testing.T) {

	if _, err := Marshal("bad", make(chan int)); err == nil {
		t.Error("expected error for unencodable payload, got nil")
	}
}
