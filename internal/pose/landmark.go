package pose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// LandmarkName identifies a tracked anatomical point. The set is closed and
// follows the 33-point BlazePose topology.
type LandmarkName string

const (
	Nose           LandmarkName = "nose"
	LeftEyeInner   LandmarkName = "left_eye_inner"
	LeftEye        LandmarkName = "left_eye"
	LeftEyeOuter   LandmarkName = "left_eye_outer"
	RightEyeInner  LandmarkName = "right_eye_inner"
	RightEye       LandmarkName = "right_eye"
	RightEyeOuter  LandmarkName = "right_eye_outer"
	LeftEar        LandmarkName = "left_ear"
	RightEar       LandmarkName = "right_ear"
	MouthLeft      LandmarkName = "mouth_left"
	MouthRight     LandmarkName = "mouth_right"
	LeftShoulder   LandmarkName = "left_shoulder"
	RightShoulder  LandmarkName = "right_shoulder"
	LeftElbow      LandmarkName = "left_elbow"
	RightElbow     LandmarkName = "right_elbow"
	LeftWrist      LandmarkName = "left_wrist"
	RightWrist     LandmarkName = "right_wrist"
	LeftPinky      LandmarkName = "left_pinky"
	RightPinky     LandmarkName = "right_pinky"
	LeftIndex      LandmarkName = "left_index"
	RightIndex     LandmarkName = "right_index"
	LeftThumb      LandmarkName = "left_thumb"
	RightThumb     LandmarkName = "right_thumb"
	LeftHip        LandmarkName = "left_hip"
	RightHip       LandmarkName = "right_hip"
	LeftKnee       LandmarkName = "left_knee"
	RightKnee      LandmarkName = "right_knee"
	LeftAnkle      LandmarkName = "left_ankle"
	RightAnkle     LandmarkName = "right_ankle"
	LeftHeel       LandmarkName = "left_heel"
	RightHeel      LandmarkName = "right_heel"
	LeftFootIndex  LandmarkName = "left_foot_index"
	RightFootIndex LandmarkName = "right_foot_index"
)

// blazePoseOrder maps the pose model's output index to a landmark name.
var blazePoseOrder = [...]LandmarkName{
	Nose, LeftEyeInner, LeftEye, LeftEyeOuter, RightEyeInner, RightEye, RightEyeOuter,
	LeftEar, RightEar, MouthLeft, MouthRight,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftPinky, RightPinky, LeftIndex, RightIndex, LeftThumb, RightThumb,
	LeftHip, RightHip, LeftKnee, RightKnee, LeftAnkle, RightAnkle,
	LeftHeel, RightHeel, LeftFootIndex, RightFootIndex,
}

var knownNames = func() map[LandmarkName]int {
	m := make(map[LandmarkName]int, len(blazePoseOrder))
	for i, n := range blazePoseOrder {
		m[n] = i
	}
	return m
}()

// Valid reports whether n is one of the known landmark names.
func (n LandmarkName) Valid() bool {
	_, ok := knownNames[n]
	return ok
}

// NameAt returns the landmark name for a BlazePose output index.
func NameAt(index int) (LandmarkName, bool) {
	if index < 0 || index >= len(blazePoseOrder) {
		return "", false
	}
	return blazePoseOrder[index], true
}

// Landmark is a single tracked point. X and Y are image coordinates with Y
// growing downward; Z is depth relative to the hips.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

// UnmarshalJSON accepts either "confidence" or the pose model's "visibility".
func (l *Landmark) UnmarshalJSON(data []byte) error {
	var raw struct {
		X          float64  `json:"x"`
		Y          float64  `json:"y"`
		Z          float64  `json:"z"`
		Confidence *float64 `json:"confidence"`
		Visibility *float64 `json:"visibility"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Landmark{X: raw.X, Y: raw.Y, Z: raw.Z}
	switch {
	case raw.Confidence != nil:
		l.Confidence = *raw.Confidence
	case raw.Visibility != nil:
		l.Confidence = *raw.Visibility
	}
	return nil
}

// Finite reports whether all coordinates and the confidence are finite numbers.
func (l Landmark) Finite() bool {
	for _, v := range [...]float64{l.X, l.Y, l.Z, l.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Landmarks is the set of points detected in one frame.
type Landmarks map[LandmarkName]Landmark

// UnmarshalJSON decodes either an object keyed by landmark name or the
// 33-element array emitted by the pose model. Unknown names are dropped.
func (ls *Landmarks) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := Landmarks{}

	if len(data) > 0 && data[0] == '[' {
		var arr []Landmark
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("decoding landmark array: %w", err)
		}
		for i, l := range arr {
			name, ok := NameAt(i)
			if !ok {
				break
			}
			out[name] = l
		}
		*ls = out
		return nil
	}

	var obj map[string]Landmark
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding landmark object: %w", err)
	}
	for k, l := range obj {
		name := LandmarkName(k)
		if !name.Valid() {
			continue
		}
		out[name] = l
	}
	*ls = out
	return nil
}

// Frame is one set of landmarks captured at a monotonic timestamp.
type Frame struct {
	Timestamp time.Time
	Landmarks Landmarks
}

type frameJSON struct {
	TimestampMs int64     `json:"timestamp_ms"`
	Landmarks   Landmarks `json:"landmarks"`
}

// UnmarshalJSON decodes {"timestamp_ms": ..., "landmarks": ...}.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw frameJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Timestamp = time.UnixMilli(raw.TimestampMs)
	f.Landmarks = raw.Landmarks
	return nil
}

// MarshalJSON writes the same shape UnmarshalJSON reads.
func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(frameJSON{TimestampMs: f.Timestamp.UnixMilli(), Landmarks: f.Landmarks})
}

// Get returns the named landmark and whether it was present.
func (f Frame) Get(name LandmarkName) (Landmark, bool) {
	l, ok := f.Landmarks[name]
	return l, ok
}
