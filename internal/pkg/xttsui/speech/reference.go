package speech

type ReferenceKind int

const (
	PathReference ReferenceKind = iota + 1
	RecordedReference
)

func (k ReferenceKind) String() string {
	switch k {
	case PathReference:
		return "path"
	case RecordedReference:
		return "recorded"
	default:
		return "none"
	}
}

// SpeakerReference is the voice to clone: either an audio file on disk or
// samples captured in memory. The caller keeps ownership of both.
type SpeakerReference struct {
	Kind       ReferenceKind
	Path       string
	SampleRate int
	Samples    []float32
}

func FromPath(path string) SpeakerReference {
	return SpeakerReference{Kind: PathReference, Path: path}
}

func FromRecording(sampleRate int, samples []float32) SpeakerReference {
	return SpeakerReference{Kind: RecordedReference, SampleRate: sampleRate, Samples: samples}
}

// Duration in seconds of a recorded reference; zero for paths.
func (r SpeakerReference) Duration() float64 {
	if r.Kind != RecordedReference || r.SampleRate <= 0 {
		return 0
	}
	return float64(len(r.Samples)) / float64(r.SampleRate)
}
