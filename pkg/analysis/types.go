package analysis

// AnalysisResponse is the decoded body of a successful analysis-service call.
// The shape mirrors the service's face-detection result verbatim, so the
// aggregator and report collaborators never re-map fields.
type AnalysisResponse struct {
	Faces         []FaceObservation `json:"faces"`
	NextToken     string            `json:"next_token,omitempty"`
	Status        string            `json:"status,omitempty"`
	VideoMetadata *VideoMetadata    `json:"video_metadata,omitempty"`
}

// FaceObservation pairs one detected face with its timestamp in the video.
type FaceObservation struct {
	Face      FaceDetail `json:"Face"`
	Timestamp int64      `json:"Timestamp"`
}

// FaceDetail carries the per-face attributes the service reports.
type FaceDetail struct {
	AgeRange    *AgeRange    `json:"AgeRange,omitempty"`
	Smile       *BooleanAttr `json:"Smile,omitempty"`
	Eyeglasses  *BooleanAttr `json:"Eyeglasses,omitempty"`
	Sunglasses  *BooleanAttr `json:"Sunglasses,omitempty"`
	Beard       *BooleanAttr `json:"Beard,omitempty"`
	Mustache    *BooleanAttr `json:"Mustache,omitempty"`
	EyesOpen    *BooleanAttr `json:"EyesOpen,omitempty"`
	MouthOpen   *BooleanAttr `json:"MouthOpen,omitempty"`
	Emotions    []Emotion    `json:"Emotions,omitempty"`
	Pose        *Pose        `json:"Pose,omitempty"`
	Quality     *Quality     `json:"Quality,omitempty"`
	BoundingBox *BoundingBox `json:"BoundingBox,omitempty"`
	Confidence  float64      `json:"Confidence,omitempty"`
}

// Emotion is one labeled emotion with the service's confidence in it.
type Emotion struct {
	Type       string  `json:"Type"`
	Confidence float64 `json:"Confidence"`
}

// AgeRange is the estimated age bracket for a face.
type AgeRange struct {
	Low  int `json:"Low"`
	High int `json:"High"`
}

// BooleanAttr is a boolean face attribute with detection confidence.
type BooleanAttr struct {
	Value      bool    `json:"Value"`
	Confidence float64 `json:"Confidence"`
}

// Pose describes head orientation in degrees.
type Pose struct {
	Roll  float64 `json:"Roll"`
	Yaw   float64 `json:"Yaw"`
	Pitch float64 `json:"Pitch"`
}

// Quality describes image quality for the detected face.
type Quality struct {
	Brightness float64 `json:"Brightness"`
	Sharpness  float64 `json:"Sharpness"`
}

// BoundingBox locates the face within the frame, as frame-relative ratios.
type BoundingBox struct {
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
	Left   float64 `json:"Left"`
	Top    float64 `json:"Top"`
}

// VideoMetadata is the stream-level metadata the service extracts.
type VideoMetadata struct {
	Codec          string  `json:"Codec"`
	ColorRange     string  `json:"ColorRange"`
	DurationMillis int64   `json:"DurationMillis"`
	Format         string  `json:"Format"`
	FrameHeight    int64   `json:"FrameHeight"`
	FrameRate      float64 `json:"FrameRate"`
	FrameWidth     int64   `json:"FrameWidth"`
}
