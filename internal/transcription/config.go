package transcription

// WhisperX invocation constants.
const (
	DefaultVariant    = "large"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	VADOnset          = "0.08"
	VADOffset         = "0.07"
	BeamSize          = "10"
	BestOf            = "10"
	Temperature       = "0.0"
	Patience          = "1.0"
	SegmentResolution = "sentence"
	OutputFormat      = "all"
	CUDADevice        = "cuda"
	VADMethodSilero   = "silero"
	VADMethodPyannote = "pyannote"
)

// modelNames maps a pipeline variant to the WhisperX model it loads. The
// bare "large" alias tracks the current large checkpoint.
var modelNames = map[string]string{
	"tiny":   "tiny",
	"base":   "base",
	"small":  "small",
	"medium": "medium",
	"large":  "large-v3",
}

// ModelName resolves a pipeline variant to the WhisperX --model value.
func ModelName(variant string) string {
	if name, ok := modelNames[variant]; ok {
		return name
	}
	return variant
}
