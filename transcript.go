package analyst

import "strings"

// Literal markers of the think/act/observe grammar.
const (
	MarkerThought     = "Thought:"
	MarkerAction      = "Action:"
	MarkerActionInput = "Action Input:"
	MarkerObservation = "Observation:"
	MarkerFinalAction = "Final Action:"
	MarkerFinalAnswer = "Final Answer:"

	// ObservationStop halts a planner step right after it proposes one action.
	ObservationStop = "\n" + MarkerObservation
	// TerminalMarker anywhere in a step's raw output ends the session.
	TerminalMarker = "\n" + MarkerFinalAnswer
)

// SegmentKind identifies what a transcript segment holds.
type SegmentKind int

const (
	SegmentPreamble SegmentKind = iota
	SegmentQuestion
	SegmentStep
	SegmentObservation
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentPreamble:
		return "preamble"
	case SegmentQuestion:
		return "question"
	case SegmentStep:
		return "step"
	case SegmentObservation:
		return "observation"
	default:
		return "unknown"
	}
}

// Segment is one append-only piece of the planner's working memory.
// Text holds the already-rendered form.
type Segment struct {
	Kind SegmentKind
	Text string
}

// Transcript is the ordered sequence of segments submitted to the model.
// Segments are never modified or removed once appended.
type Transcript struct {
	segments []Segment
	size     int
}

// NewTranscript starts a transcript from the preamble and the rendered question framing.
func NewTranscript(preamble, question string) *Transcript {
	t := &Transcript{}
	t.append(SegmentPreamble, preamble)
	t.append(SegmentQuestion, question)
	return t
}

func (t *Transcript) append(kind SegmentKind, text string) {
	t.segments = append(t.segments, Segment{Kind: kind, Text: text})
	t.size += len(text)
}

// AppendStep records a raw model completion.
func (t *Transcript) AppendStep(raw string) {
	t.append(SegmentStep, raw)
}

// AppendObservation records a tool result using the fixed observation block.
func (t *Transcript) AppendObservation(observation string) {
	t.append(SegmentObservation, "\n"+MarkerObservation+" "+observation+"\n"+MarkerThought)
}

// Segments returns a copy of the segments in order.
func (t *Transcript) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Len returns the number of segments.
func (t *Transcript) Len() int { return len(t.segments) }

// String serializes the transcript into the exact prompt text.
func (t *Transcript) String() string {
	var b strings.Builder
	b.Grow(t.size)
	for _, s := range t.segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Context is the transcript without the preamble, trimmed.
func (t *Transcript) Context() string {
	var b strings.Builder
	for _, s := range t.segments {
		if s.Kind == SegmentPreamble {
			continue
		}
		b.WriteString(s.Text)
	}
	return strings.TrimSpace(b.String())
}
