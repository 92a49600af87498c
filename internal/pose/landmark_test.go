package pose

import (
	"encoding/json"
	"math"
	"testing"
)

// TestLandmarksUnmarshalObject verifies named landmarks decode and unknown
// names are dropped rather than rejected.
func TestLandmarksUnmarshalObject(t *testing.T) {
	data := `{"left_hip":{"x":0.4,"y":0.6,"z":0,"confidence":0.9},"tail":{"x":1,"y":1}}`
	var ls Landmarks
	if err := json.Unmarshal([]byte(data), &ls); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ls) != 1 {
		t.Fatalf("len = %d, want 1", len(ls))
	}
	hip := ls[LeftHip]
	if hip.X != 0.4 || hip.Y != 0.6 || hip.Confidence != 0.9 {
		t.Errorf("left_hip = %+v", hip)
	}
}

// TestLandmarksUnmarshalArray verifies the pose model's index array maps onto
// names and that "visibility" is accepted as confidence.
func TestLandmarksUnmarshalArray(t *testing.T) {
	arr := make([]map[string]float64, 33)
	for i := range arr {
		arr[i] = map[string]float64{"x": float64(i), "y": 0, "z": 0, "visibility": 0.75}
	}
	data, err := json.Marshal(arr)
	if err != nil {
		t.Fatal(err)
	}

	var ls Landmarks
	if err := json.Unmarshal(data, &ls); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ls) != 33 {
		t.Fatalf("len = %d, want 33", len(ls))
	}
	if got := ls[LeftHip].X; got != 23 {
		t.Errorf("left_hip.x = %v, want 23", got)
	}
	if got := ls[RightFootIndex].X; got != 32 {
		t.Errorf("right_foot_index.x = %v, want 32", got)
	}
	if got := ls[Nose].Confidence; got != 0.75 {
		t.Errorf("nose.confidence = %v, want 0.75", got)
	}
}

// TestFrameRoundTrip verifies the frame wire shape keeps millisecond timestamps.
func TestFrameRoundTrip(t *testing.T) {
	in := `{"timestamp_ms":1500,"landmarks":{"nose":{"x":0.5,"y":0.1,"z":0,"confidence":1}}}`
	var f Frame
	if err := json.Unmarshal([]byte(in), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Timestamp.UnixMilli() != 1500 {
		t.Errorf("timestamp = %d, want 1500", f.Timestamp.UnixMilli())
	}
	if _, ok := f.Get(Nose); !ok {
		t.Error("nose missing")
	}

	out, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var back Frame
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Timestamp.Equal(f.Timestamp) {
		t.Errorf("round trip timestamp = %v, want %v", back.Timestamp, f.Timestamp)
	}
}

// TestFinite verifies NaN and Inf coordinates are detected.
func TestFinite(t *testing.T) {
	if !(Landmark{X: 1, Y: 2, Confidence: 1}).Finite() {
		t.Error("finite landmark reported non-finite")
	}
	if (Landmark{X: math.NaN()}).Finite() {
		t.Error("NaN landmark reported finite")
	}
	if (Landmark{Y: math.Inf(1)}).Finite() {
		t.Error("Inf landmark reported finite")
	}
}

func TestAngleFromVertical(t *testing.T) {
	hip := Landmark{X: 0.5, Y: 1.0}
	tests := []struct {
		name     string
		shoulder Landmark
		want     float64
	}{
		{"upright", Landmark{X: 0.5, Y: 0.5}, 0},
		{"forward 45", Landmark{X: 1.0, Y: 0.5}, 45},
		{"horizontal", Landmark{X: 1.0, Y: 1.0}, 90},
		{"degenerate", hip, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AngleFromVertical(hip, tt.shoulder)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AngleFromVertical = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJointAngle(t *testing.T) {
	hip := Landmark{X: 0, Y: 0}
	knee := Landmark{X: 0, Y: 1}
	straight := Landmark{X: 0, Y: 2}
	bent := Landmark{X: 1, Y: 1}

	if got := JointAngle(hip, knee, straight); math.Abs(got-180) > 1e-9 {
		t.Errorf("straight leg = %v, want 180", got)
	}
	if got := JointAngle(hip, knee, bent); math.Abs(got-90) > 1e-9 {
		t.Errorf("bent leg = %v, want 90", got)
	}
}

// TestMidpoint verifies the midpoint carries the weaker confidence.
func TestMidpoint(t *testing.T) {
	m := Midpoint(Landmark{X: 0, Y: 0, Confidence: 0.9}, Landmark{X: 2, Y: 4, Confidence: 0.6})
	if m.X != 1 || m.Y != 2 {
		t.Errorf("midpoint = (%v, %v), want (1, 2)", m.X, m.Y)
	}
	if m.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", m.Confidence)
	}
}
