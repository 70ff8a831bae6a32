package vad

// State is the segmentation state of a [Detector].
type State int

const (
	// StateSilence means no segment is being accumulated.
	StateSilence State = iota

	// StateActive means the last frame was above the energy threshold.
	StateActive

	// StateTrailing means a segment is open but the most recent frames were
	// at or below the threshold. The trailing frames are kept as padding.
	StateTrailing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "SILENCE"
	case StateActive:
		return "ACTIVE"
	case StateTrailing:
		return "TRAILING"
	default:
		return "UNKNOWN"
	}
}

// EventType enumerates per-frame detection results.
type EventType int

const (
	// EventSpeechStart indicates speech has just begun.
	EventSpeechStart EventType = iota

	// EventSpeechContinue indicates an open segment absorbed the frame, either
	// as speech or as trailing padding.
	EventSpeechContinue

	// EventSpeechEnd indicates the padding window filled and the open segment
	// closed. The segment is emitted only if it met the minimum length.
	EventSpeechEnd

	// EventSilence indicates no speech detected and no segment open.
	EventSilence
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventSpeechStart:
		return "SPEECH_START"
	case EventSpeechContinue:
		return "SPEECH_CONTINUE"
	case EventSpeechEnd:
		return "SPEECH_END"
	case EventSilence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}

// Event is the detection result for a single frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// EnergyDB is the frame energy that drove the decision.
	EnergyDB float64

	// State is the detector state after the frame was processed.
	State State
}
