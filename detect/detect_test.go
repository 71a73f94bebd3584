package detect

import (
	"encoding/json"
	"testing"
)

func TestNewBox(t *testing.T) {

	cases := []struct {
		name           string
		x1, y1, x2, y2 float64
		want           Box
	}{
		{
			name: "Rounds to nearest pixel",
			x1:   1.4, y1: 1.6, x2: 10.5, y2: 20.49,
			want: Box{X1: 1, Y1: 2, X2: 11, Y2: 20},
		},
		{
			name: "Orders swapped corners",
			x1:   10, y1: 20, x2: 0, y2: 5,
			want: Box{X1: 0, Y1: 5, X2: 10, Y2: 20},
		},
		{
			name: "Already ordered",
			x1:   0, y1: 0, x2: 5, y2: 5,
			want: Box{X1: 0, Y1: 0, X2: 5, Y2: 5},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {

			got := NewBox(tc.x1, tc.y1, tc.x2, tc.y2)

			if got != tc.want {
				t.Errorf("NewBox = %+v; want %+v", got, tc.want)
			}
		})
	}
}

func TestBoxDimensions(t *testing.T) {

	b := Box{X1: 10, Y1: 20, X2: 40, Y2: 70}

	if b.Width() != 30 {
		t.Errorf("Width = %d; want 30", b.Width())
	}

	if b.Height() != 50 {
		t.Errorf("Height = %d; want 50", b.Height())
	}

	if b.Area() != 1500 {
		t.Errorf("Area = %d; want 1500", b.Area())
	}
}

func TestBoxJSON(t *testing.T) {

	b := Box{X1: 1, Y1: 2, X2: 3, Y2: 4}

	data, err := json.Marshal(b)

	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if string(data) != "[1,2,3,4]" {
		t.Errorf("Marshal = %s; want [1,2,3,4]", data)
	}

	var back Box

	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if back != b {
		t.Errorf("round trip = %+v; want %+v", back, b)
	}

	if err := json.Unmarshal([]byte(`{"x":1}`), &back); err == nil {
		t.Error("expected error unmarshalling non-array bbox, got nil")
	}
}

func TestDetectionJSONFields(t *testing.T) {

	id := 4
	d := Detection{
		Class:      "person",
		Confidence: 0.87,
		Box:        Box{X1: 1, Y1: 2, X2: 3, Y2: 4},
		TrackID:    &id,
		FrameIndex: 12,
		Timestamp:  "00:00:03",
	}

	data, err := json.Marshal(d)

	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"class":"person","confidence":0.87,"bbox":[1,2,3,4],` +
		`"track_id":4,"frame":12,"timestamp":"00:00:03"}`

	if string(data) != want {
		t.Errorf("Marshal = %s; want %s", data, want)
	}

	// an untracked detection serialises track_id as null
	d.TrackID = nil
	data, _ = json.Marshal(d)

	var m map[string]interface{}

	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if v, ok := m["track_id"]; !ok || v != nil {
		t.Errorf("track_id = %v; want null present", v)
	}
}

func TestRoundConf(t *testing.T) {

	cases := []struct {
		in   float64
		want float64
	}{
		{0.876543, 0.88},
		{0.874999, 0.87},
		{0.5, 0.5},
		{1.0, 1.0},
		{0.0, 0.0},
	}

	for _, tc := range cases {
		if got := RoundConf(tc.in); got != tc.want {
			t.Errorf("RoundConf(%v) = %v; want %v", tc.in, got, tc.want)
		}
	}
}
