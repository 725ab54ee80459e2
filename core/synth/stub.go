package synth

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Hdd5ps/sheet-to-sound/storage"
)

// StubProcessor is a placeholder renderer. It performs no optical music
// recognition or audio synthesis; it fabricates small artifact blobs in the
// media bucket so the rest of the pipeline can be exercised end to end.
type StubProcessor struct {
	Blobs       storage.BlobStore
	MediaBucket string

	// Delay simulates rendering time. Err, when set, makes every job fail;
	// both exist for tests and local development.
	Delay time.Duration
	Err   error
}

// NewStubProcessor creates a stub processor writing to the given bucket.
func NewStubProcessor(blobs storage.BlobStore, mediaBucket string) *StubProcessor {
	return &StubProcessor{Blobs: blobs, MediaBucket: mediaBucket}
}

func (p *StubProcessor) Process(ctx context.Context, job Job) (*Result, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.Err != nil {
		return nil, p.Err
	}

	audioPath := fmt.Sprintf("audio/%d/%s.wav", job.UserID, job.ConversionID)
	midiPath := fmt.Sprintf("midi/%d/%s.mid", job.UserID, job.ConversionID)

	audio := []byte(fmt.Sprintf("stub audio render of score %s at %d bpm", job.ScoreID, job.Tempo))
	midi := []byte(fmt.Sprintf("stub midi render of score %s", job.ScoreID))

	if err := p.Blobs.Put(ctx, p.MediaBucket, audioPath, bytes.NewReader(audio), int64(len(audio)), "audio/wav"); err != nil {
		return nil, fmt.Errorf("failed to store audio artifact: %w", err)
	}
	if err := p.Blobs.Put(ctx, p.MediaBucket, midiPath, bytes.NewReader(midi), int64(len(midi)), "audio/midi"); err != nil {
		return nil, fmt.Errorf("failed to store midi artifact: %w", err)
	}

	return &Result{AudioPath: audioPath, MIDIPath: midiPath}, nil
}
