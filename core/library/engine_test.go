package library_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hdd5ps/sheet-to-sound/core/library"
	"github.com/Hdd5ps/sheet-to-sound/core/synth"
	"github.com/Hdd5ps/sheet-to-sound/model"
	"github.com/Hdd5ps/sheet-to-sound/repository"
	"github.com/Hdd5ps/sheet-to-sound/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scoreBucket = "scores"
	mediaBucket = "renders"
)

// fakeClock hands out strictly increasing instants so uploads get distinct
// timestamps even within one test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type testEnv struct {
	engine *library.Engine
	blobs  *storage.MemoryBlobStore
	meta   repository.MetadataStore
	scores repository.ScoreRepository
	convs  repository.ConversionRepository
	index  repository.IndexRepository
}

func newTestEnv() *testEnv {
	meta := repository.NewMemoryMetadataStore()
	blobs := storage.NewMemoryBlobStore()
	scores := repository.NewScoreRepository(meta)
	convs := repository.NewConversionRepository(meta)
	index := repository.NewIndexRepository(meta)

	engine := library.NewEngine(scores, convs, index, blobs, library.Config{
		ScoreBucket:   scoreBucket,
		MediaBucket:   mediaBucket,
		MaxUploadSize: 10 << 20,
		SignedURLTTL:  time.Hour,
	})
	engine.SetClock(newFakeClock().Now)

	return &testEnv{engine: engine, blobs: blobs, meta: meta, scores: scores, convs: convs, index: index}
}

func pngUpload(userID int64, size int) library.UploadInput {
	return library.UploadInput{
		UserID:      userID,
		FileName:    "sonata.png",
		ContentType: model.ContentTypePNG,
		Size:        int64(size),
		Body:        bytes.NewReader(bytes.Repeat([]byte{0x1}, size)),
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 2<<20))
	require.NoError(t, err)

	assert.NotEmpty(t, score.ID)
	assert.Equal(t, int64(1), score.UserID)
	assert.Equal(t, model.ContentTypePNG, score.FileType)
	assert.NotEmpty(t, score.URL)
	assert.True(t, env.blobs.Has(scoreBucket, score.FilePath))

	// Retrievable through the library for its owner.
	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, score.ID, scores[0].ID)

	// Invisible to any other user.
	other, err := env.engine.ListLibrary(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUploadIDsAreUnique(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		score, err := env.engine.Upload(ctx, pngUpload(1, 100))
		require.NoError(t, err)
		assert.False(t, seen[score.ID], "duplicate id %s", score.ID)
		seen[score.ID] = true
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.engine.Upload(ctx, library.UploadInput{
		UserID:      1,
		FileName:    "notes.txt",
		ContentType: "text/plain",
		Size:        64,
		Body:        strings.NewReader("not a score"),
	})

	var vErr *library.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "image/jpeg")
	assert.Contains(t, vErr.Message, "application/pdf")

	// No score created, no index mutation, no blob stored.
	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Equal(t, 0, env.blobs.Len())
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv()

	_, err := env.engine.Upload(context.Background(), library.UploadInput{
		UserID:      1,
		FileName:    "big.pdf",
		ContentType: model.ContentTypePDF,
		Size:        11 << 20,
		Body:        strings.NewReader("x"),
	})

	var vErr *library.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestConvertStartsProcessing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 2<<20))
	require.NoError(t, err)

	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID:      1,
		ScoreID:     score.ID,
		Instruments: []string{"violin", "cello"},
		Tempo:       90,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusProcessing, conv.Status)
	assert.Equal(t, 90, conv.Tempo)
	assert.Equal(t, score.ID, conv.ScoreID)
	assert.Equal(t, int64(1), conv.UserID)
	assert.Nil(t, conv.CompletedAt)

	got, err := env.engine.GetConversion(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestConvertDefaultsTempo(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID:      1,
		ScoreID:     score.ID,
		Instruments: []string{"piano"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTempo, conv.Tempo)
}

func TestConvertValidatesTempoBounds(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	for _, tempo := range []int{39, 241, -10} {
		_, err := env.engine.Convert(ctx, library.ConvertInput{
			UserID:      1,
			ScoreID:     score.ID,
			Instruments: []string{"piano"},
			Tempo:       tempo,
		})
		var vErr *library.ValidationError
		require.ErrorAs(t, err, &vErr, "tempo %d", tempo)
	}
}

func TestConvertRequiresInstrumentsOrSATB(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	_, err = env.engine.Convert(ctx, library.ConvertInput{UserID: 1, ScoreID: score.ID})
	var vErr *library.ValidationError
	require.ErrorAs(t, err, &vErr)

	// A SATB config alone is enough.
	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID:  1,
		ScoreID: score.ID,
		SATBConfig: &model.SATBConfig{
			Soprano: model.VoiceSettings{Enabled: true, Volume: 80},
			Alto:    model.VoiceSettings{Enabled: true, Volume: 70},
			Tenor:   model.VoiceSettings{Enabled: true, Volume: 70},
			Bass:    model.VoiceSettings{Enabled: true, Solo: true, Volume: 90},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, conv.SATBConfig)
	assert.Empty(t, conv.Instruments)
}

func TestConvertOnForeignScoreIsNotFound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	_, err = env.engine.Convert(ctx, library.ConvertInput{
		UserID:      2,
		ScoreID:     score.ID,
		Instruments: []string{"piano"},
	})
	require.ErrorIs(t, err, library.ErrNotFound)

	// No conversion recorded for the caller.
	ids, err := env.index.GetConversionIndex(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConvertOnMissingScoreIsNotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.engine.Convert(context.Background(), library.ConvertInput{
		UserID:      1,
		ScoreID:     "1_123_deadbeef",
		Instruments: []string{"piano"},
	})
	require.ErrorIs(t, err, library.ErrNotFound)
}

// putArtifacts stores fake rendered blobs so completion can presign them.
func putArtifacts(t *testing.T, blobs storage.BlobStore, audioPath, midiPath string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []struct{ path, ct string }{
		{audioPath, "audio/wav"},
		{midiPath, "audio/midi"},
	} {
		err := blobs.Put(ctx, mediaBucket, p.path, strings.NewReader("artifact"), 8, p.ct)
		require.NoError(t, err)
	}
}

func TestCompleteConversionSuccess(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)

	audioPath := fmt.Sprintf("audio/1/%s.wav", conv.ID)
	midiPath := fmt.Sprintf("midi/1/%s.mid", conv.ID)
	putArtifacts(t, env.blobs, audioPath, midiPath)

	err = env.engine.CompleteConversion(ctx, conv.ID, &synth.Result{
		AudioPath: audioPath,
		MIDIPath:  midiPath,
	}, nil)
	require.NoError(t, err)

	got, err := env.engine.GetConversion(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.AudioURL)
	assert.NotEmpty(t, got.MIDIURL)
	assert.Equal(t, audioPath, got.AudioPath)
	assert.Equal(t, midiPath, got.MIDIPath)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestCompleteConversionFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)

	err = env.engine.CompleteConversion(ctx, conv.ID, nil, errors.New("no staves detected"))
	require.NoError(t, err)

	got, err := env.engine.GetConversion(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "no staves detected", got.Error)
	assert.Empty(t, got.AudioURL)
	require.NotNil(t, got.CompletedAt)
}

func TestCompletionNeverOverwritesTerminalState(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)

	err = env.engine.CompleteConversion(ctx, conv.ID, nil, errors.New("first outcome"))
	require.NoError(t, err)

	// A late duplicate callback must be dropped, not applied.
	audioPath := "audio/1/late.wav"
	midiPath := "midi/1/late.mid"
	putArtifacts(t, env.blobs, audioPath, midiPath)
	err = env.engine.CompleteConversion(ctx, conv.ID, &synth.Result{
		AudioPath: audioPath, MIDIPath: midiPath,
	}, nil)
	require.NoError(t, err)

	got, err := env.engine.GetConversion(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "first outcome", got.Error)
}

func TestCompletionForUnknownConversionIsNoOp(t *testing.T) {
	env := newTestEnv()

	err := env.engine.CompleteConversion(context.Background(), "1_42_cafecafe", nil, errors.New("late"))
	require.NoError(t, err)
}

func TestListLibraryOrderingAndGrouping(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	second, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	third, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	convA, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: first.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)
	convB, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: first.ID, Instruments: []string{"cello"},
	})
	require.NoError(t, err)

	// Another user's data must not bleed in.
	_, err = env.engine.Upload(ctx, pngUpload(2, 100))
	require.NoError(t, err)

	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	// Newest first.
	assert.Equal(t, third.ID, scores[0].ID)
	assert.Equal(t, second.ID, scores[1].ID)
	assert.Equal(t, first.ID, scores[2].ID)

	// Conversions attached to their score, in creation order.
	require.Len(t, scores[2].Conversions, 2)
	assert.Equal(t, convA.ID, scores[2].Conversions[0].ID)
	assert.Equal(t, convB.ID, scores[2].Conversions[1].ID)
	assert.Empty(t, scores[0].Conversions)
	assert.Empty(t, scores[1].Conversions)
}

func TestListLibraryEmpty(t *testing.T) {
	env := newTestEnv()

	scores, err := env.engine.ListLibrary(context.Background(), 7)
	require.NoError(t, err)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
}

func TestListLibraryToleratesStaleIndexEntries(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	kept, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	gone, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	// Delete the document out from under the index.
	require.NoError(t, env.scores.Delete(ctx, gone.ID))

	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, kept.ID, scores[0].ID)
}

func TestDeleteScoreCascades(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 2<<20))
	require.NoError(t, err)
	keepScore, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)
	keepConv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: keepScore.ID, Instruments: []string{"piano"},
	})
	require.NoError(t, err)

	audioPath := fmt.Sprintf("audio/1/%s.wav", conv.ID)
	midiPath := fmt.Sprintf("midi/1/%s.mid", conv.ID)
	putArtifacts(t, env.blobs, audioPath, midiPath)
	require.NoError(t, env.engine.CompleteConversion(ctx, conv.ID, &synth.Result{
		AudioPath: audioPath, MIDIPath: midiPath,
	}, nil))

	require.NoError(t, env.engine.DeleteScore(ctx, 1, score.ID))

	// Neither the score nor its conversion is reachable any more.
	_, err = env.engine.GetConversion(ctx, 1, conv.ID)
	assert.ErrorIs(t, err, library.ErrNotFound)

	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, keepScore.ID, scores[0].ID)
	require.Len(t, scores[0].Conversions, 1)
	assert.Equal(t, keepConv.ID, scores[0].Conversions[0].ID)

	// Blobs cleaned up too.
	assert.False(t, env.blobs.Has(scoreBucket, score.FilePath))
	assert.False(t, env.blobs.Has(mediaBucket, audioPath))
	assert.False(t, env.blobs.Has(mediaBucket, midiPath))
}

func TestDeleteScoreForeignOwnerIsNotFound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	err = env.engine.DeleteScore(ctx, 2, score.ID)
	require.ErrorIs(t, err, library.ErrNotFound)

	// Still present for its owner.
	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

// flakyBlobStore fails every Remove, simulating a transiently unavailable
// object store during cascade deletion.
type flakyBlobStore struct {
	*storage.MemoryBlobStore
}

func (s *flakyBlobStore) Remove(ctx context.Context, bucket, object string) error {
	return errors.New("storage unavailable")
}

func TestDeleteScoreSurvivesBlobFailures(t *testing.T) {
	meta := repository.NewMemoryMetadataStore()
	blobs := &flakyBlobStore{MemoryBlobStore: storage.NewMemoryBlobStore()}
	scores := repository.NewScoreRepository(meta)
	convs := repository.NewConversionRepository(meta)
	index := repository.NewIndexRepository(meta)
	engine := library.NewEngine(scores, convs, index, blobs, library.Config{
		ScoreBucket:   scoreBucket,
		MediaBucket:   mediaBucket,
		MaxUploadSize: 10 << 20,
		SignedURLTTL:  time.Hour,
	})
	engine.SetClock(newFakeClock().Now)
	ctx := context.Background()

	score, err := engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	conv, err := engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)

	// Metadata cleanup must proceed past failed blob removals.
	require.NoError(t, engine.DeleteScore(ctx, 1, score.ID))

	_, err = engine.GetConversion(ctx, 1, conv.ID)
	assert.ErrorIs(t, err, library.ErrNotFound)

	listed, err := engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestConcurrentConvertsAreIndependent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)

	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, err := env.engine.Convert(ctx, library.ConvertInput{
				UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
			})
			assert.NoError(t, err)
			ids <- conv.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate conversion id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	// No lost updates on the read-modify-write index.
	indexIDs, err := env.index.GetConversionIndex(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, indexIDs, n)
}

func TestDeletionRacingCompletionDropsTheOutcome(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	score, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: score.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.DeleteScore(ctx, 1, score.ID))

	// The in-flight job finishes after the cascade delete; its completion
	// must not resurrect the conversion.
	audioPath := "audio/1/zombie.wav"
	midiPath := "midi/1/zombie.mid"
	putArtifacts(t, env.blobs, audioPath, midiPath)
	err = env.engine.CompleteConversion(ctx, conv.ID, &synth.Result{
		AudioPath: audioPath, MIDIPath: midiPath,
	}, nil)
	require.NoError(t, err)

	_, err = env.engine.GetConversion(ctx, 1, conv.ID)
	assert.ErrorIs(t, err, library.ErrNotFound)

	scores, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestEndToEndWithDispatcher(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	processor := synth.NewStubProcessor(env.blobs, mediaBucket)
	dispatcher := synth.NewDispatcher(processor, env.engine.HandleCompletion, 2)
	env.engine.SetDispatch(dispatcher.Dispatch)

	score, err := env.engine.Upload(ctx, pngUpload(1, 2<<20))
	require.NoError(t, err)

	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID:      1,
		ScoreID:     score.ID,
		Instruments: []string{"violin", "cello"},
		Tempo:       90,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, conv.Status)

	dispatcher.Stop() // drains the queue

	got, err := env.engine.GetConversion(ctx, 1, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.AudioURL)
	assert.NotEmpty(t, got.MIDIURL)
	assert.True(t, env.blobs.Has(mediaBucket, got.AudioPath))
	assert.True(t, env.blobs.Has(mediaBucket, got.MIDIPath))

	require.NoError(t, env.engine.DeleteScore(ctx, 1, score.ID))
	_, err = env.engine.GetConversion(ctx, 1, conv.ID)
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestRebuildIndexes(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	second, err := env.engine.Upload(ctx, pngUpload(1, 100))
	require.NoError(t, err)
	conv, err := env.engine.Convert(ctx, library.ConvertInput{
		UserID: 1, ScoreID: first.ID, Instruments: []string{"violin"},
	})
	require.NoError(t, err)

	// Clobber both indexes, as a lost update would.
	require.NoError(t, env.index.SetScoreIndex(ctx, 1, []string{}))
	require.NoError(t, env.index.SetConversionIndex(ctx, 1, []string{}))

	listed, err := env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, env.engine.RebuildIndexes(ctx, 1))

	listed, err = env.engine.ListLibrary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)
	assert.Equal(t, first.ID, listed[1].ID)
	require.Len(t, listed[1].Conversions, 1)
	assert.Equal(t, conv.ID, listed[1].Conversions[0].ID)
}
