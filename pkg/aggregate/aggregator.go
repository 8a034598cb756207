package aggregate

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"visage-pipeline/pkg/analysis"
)

// UnknownEmotion is the sentinel appended for segments whose response
// contained no faces. The timeline keeps exactly one entry per analyzed
// segment regardless of face count.
const UnknownEmotion = "unknown"

// Update describes one applied analysis response, as delivered to listeners.
type Update struct {
	SegmentIndex int       `json:"segment_index"`
	Dominant     string    `json:"dominant"`
	FaceCount    int       `json:"face_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Listener receives timeline updates as responses are applied.
type Listener interface {
	OnTimelineUpdate(update Update)
}

// Aggregator reduces analysis responses into the session's emotional
// timeline and latest-snapshot state. All mutation happens under one lock so
// readers never observe a torn update.
type Aggregator struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	slots     []string
	faces     []analysis.FaceObservation
	metadata  *analysis.VideoMetadata
	listeners []Listener
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *logrus.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// AddListener registers a listener for timeline updates. Not safe to call
// once responses are flowing.
func (a *Aggregator) AddListener(listener Listener) {
	if listener == nil {
		return
	}
	a.listeners = append(a.listeners, listener)
}

// Apply reduces one response into the segment's dominant emotion, stores it
// at the segment's timeline slot, and overwrites the latest face and
// metadata snapshots. Returns the dominant label.
//
// Slots are addressed by segment index, so uploads completing out of order
// land in recording order rather than arrival order.
func (a *Aggregator) Apply(segmentIndex int, response *analysis.AnalysisResponse) string {
	dominant := DominantEmotion(response.Faces)

	a.mu.Lock()
	for len(a.slots) <= segmentIndex {
		a.slots = append(a.slots, "")
	}
	a.slots[segmentIndex] = dominant

	// Last write wins, no merge across segments.
	a.faces = response.Faces
	if response.VideoMetadata != nil {
		a.metadata = response.VideoMetadata
	}
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"segment_index": segmentIndex,
		"dominant":      dominant,
		"face_count":    len(response.Faces),
	}).Info("Applied analysis response")

	update := Update{
		SegmentIndex: segmentIndex,
		Dominant:     dominant,
		FaceCount:    len(response.Faces),
		Timestamp:    time.Now().UTC(),
	}
	for _, listener := range a.listeners {
		listener.OnTimelineUpdate(update)
	}

	return dominant
}

// ApplySnapshot merges a response's face and metadata snapshots without
// touching the timeline. Used for the end-of-session full-recording upload,
// which is not a segment.
func (a *Aggregator) ApplySnapshot(response *analysis.AnalysisResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(response.Faces) > 0 {
		a.faces = response.Faces
	}
	if response.VideoMetadata != nil {
		a.metadata = response.VideoMetadata
	}
}

// Timeline returns the dominant-emotion labels in segment order. Segments
// that never produced a response leave no entry.
func (a *Aggregator) Timeline() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.slots))
	for _, label := range a.slots {
		if label != "" {
			out = append(out, label)
		}
	}
	return out
}

// DetectedFaces returns the most recent response's face list.
func (a *Aggregator) DetectedFaces() []analysis.FaceObservation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]analysis.FaceObservation, len(a.faces))
	copy(out, a.faces)
	return out
}

// VideoMetadata returns the most recent response's stream metadata, or nil
// when no response carried any.
func (a *Aggregator) VideoMetadata() *analysis.VideoMetadata {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.metadata == nil {
		return nil
	}
	copied := *a.metadata
	return &copied
}

// Reset clears all aggregated state for a fresh session.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.slots = nil
	a.faces = nil
	a.metadata = nil
}

// DominantEmotion selects the most frequent highest-confidence emotion
// across all faces. Per-face selection is a stable max (first seen wins a
// tie); the cross-face tally is a stable mode (first inserted wins a tie).
func DominantEmotion(faces []analysis.FaceObservation) string {
	if len(faces) == 0 {
		return UnknownEmotion
	}

	counts := make(map[string]int, len(faces))
	var order []string

	for _, face := range faces {
		top := topEmotion(face.Face.Emotions)
		if top == "" {
			continue
		}
		if _, seen := counts[top]; !seen {
			order = append(order, top)
		}
		counts[top]++
	}

	if len(order) == 0 {
		return UnknownEmotion
	}

	dominant := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[dominant] {
			dominant = label
		}
	}
	return dominant
}

// topEmotion returns the emotion with the highest confidence, keeping the
// first on equal confidence.
func topEmotion(emotions []analysis.Emotion) string {
	if len(emotions) == 0 {
		return ""
	}

	top := emotions[0]
	for _, e := range emotions[1:] {
		if e.Confidence > top.Confidence {
			top = e
		}
	}
	return top.Type
}
