package synth

import (
	"context"

	"github.com/Hdd5ps/sheet-to-sound/model"
)

// Job carries one conversion request to the processor. The processor reads
// the score blob via its path and writes audio/MIDI artifacts to the media
// bucket.
type Job struct {
	ConversionID string
	ScoreID      string
	UserID       int64
	ScorePath    string // object key of the score in the score bucket
	Instruments  []string
	SATBConfig   *model.SATBConfig
	Tempo        int
}

// Result references the artifacts a successful job produced.
type Result struct {
	AudioPath string
	MIDIPath  string
}

// Processor turns a score into audio/MIDI artifacts. Implementations are
// black boxes; the only contract is the Job in and the Result (or error)
// out. There is no upper bound on processing time.
type Processor interface {
	Process(ctx context.Context, job Job) (*Result, error)
}
