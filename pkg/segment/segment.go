package segment

import (
	"time"
)

// Segment is one fixed-duration slice of the continuous recording, stored as
// its own file. The recorder owns the file until it is handed to a sink,
// which must copy it before the recorder reuses the path bookkeeping.
type Segment struct {
	// Index is the segment's ordinal in recording order, starting at 0
	Index int

	// FilePath is where the recording landed
	FilePath string

	// CreatedAt is when the segment finished recording
	CreatedAt time.Time
}

// Sink receives completed, validated segments. Submit must not block on
// network I/O; rejection is an error the recorder logs and absorbs.
type Sink interface {
	Submit(seg Segment) error
}
