package library

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Hdd5ps/sheet-to-sound/core/synth"
	"github.com/Hdd5ps/sheet-to-sound/logger"
	"github.com/Hdd5ps/sheet-to-sound/model"
	"github.com/Hdd5ps/sheet-to-sound/repository"
	"github.com/Hdd5ps/sheet-to-sound/storage"
)

// Config holds the engine's tunables.
type Config struct {
	ScoreBucket   string
	MediaBucket   string
	MaxUploadSize int64         // bytes
	SignedURLTTL  time.Duration // lifetime of issued download URLs
}

// Engine owns the score/conversion lifecycle: uploads, conversion dispatch
// and completion, ownership checks, library aggregation, and cascading
// deletion. All persistent state lives in the metadata and blob stores;
// the engine itself only holds per-user locks serializing index mutations.
type Engine struct {
	scores   repository.ScoreRepository
	convs    repository.ConversionRepository
	index    repository.IndexRepository
	blobs    storage.BlobStore
	cfg      Config
	locks    *userLocks
	dispatch func(synth.Job)
	now      func() time.Time
}

// NewEngine creates a library engine. Attach a dispatcher with SetDispatch
// before serving convert requests.
func NewEngine(
	scores repository.ScoreRepository,
	convs repository.ConversionRepository,
	index repository.IndexRepository,
	blobs storage.BlobStore,
	cfg Config,
) *Engine {
	return &Engine{
		scores: scores,
		convs:  convs,
		index:  index,
		blobs:  blobs,
		cfg:    cfg,
		locks:  newUserLocks(),
		now:    time.Now,
	}
}

// SetDispatch wires the asynchronous job dispatch. Kept separate from the
// constructor because the dispatcher's completion callback points back at
// this engine.
func (e *Engine) SetDispatch(dispatch func(synth.Job)) {
	e.dispatch = dispatch
}

// SetClock overrides the engine's time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// UploadInput carries one score upload.
type UploadInput struct {
	UserID      int64
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

var extByType = map[string]string{
	model.ContentTypeJPEG: ".jpg",
	model.ContentTypePNG:  ".png",
	model.ContentTypePDF:  ".pdf",
}

// Upload validates and stores a sheet-music file, persists its Score
// record, and appends it to the user's score index — strictly in that
// order. Nothing is visible until the index append, so a failure at any
// step needs no compensating rollback.
func (e *Engine) Upload(ctx context.Context, in UploadInput) (*model.Score, error) {
	allowed := false
	for _, t := range model.AllowedScoreTypes {
		if in.ContentType == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, NewValidationError(fmt.Sprintf(
			"unsupported file type %q, allowed types: %s",
			in.ContentType, strings.Join(model.AllowedScoreTypes, ", ")))
	}

	if in.Size <= 0 {
		return nil, NewValidationError("uploaded file is empty")
	}
	if in.Size > e.cfg.MaxUploadSize {
		return nil, NewValidationError(fmt.Sprintf(
			"file too large, maximum size is %d MB", e.cfg.MaxUploadSize>>20))
	}

	now := e.now()
	id := newEntityID(in.UserID, now)

	ext := filepath.Ext(in.FileName)
	if ext == "" {
		ext = extByType[in.ContentType]
	}
	objectPath := fmt.Sprintf("%d/%d%s", in.UserID, now.UnixMilli(), ext)

	if err := e.blobs.Put(ctx, e.cfg.ScoreBucket, objectPath, in.Body, in.Size, in.ContentType); err != nil {
		return nil, &StorageError{Op: "score upload", Err: err}
	}

	url, err := e.blobs.PresignedURL(ctx, e.cfg.ScoreBucket, objectPath, e.cfg.SignedURLTTL)
	if err != nil {
		return nil, &StorageError{Op: "score url issuance", Err: err}
	}

	score := &model.Score{
		ID:         id,
		UserID:     in.UserID,
		FileName:   in.FileName,
		FileType:   in.ContentType,
		FileSize:   in.Size,
		FilePath:   objectPath,
		UploadedAt: now,
		URL:        url,
	}

	if err := e.scores.Save(ctx, score); err != nil {
		return nil, &MetadataError{Op: "score save", Err: err}
	}

	unlock := e.locks.lock(in.UserID)
	defer unlock()

	ids, err := e.index.GetScoreIndex(ctx, in.UserID)
	if err != nil {
		return nil, &MetadataError{Op: "score index read", Err: err}
	}
	if err := e.index.SetScoreIndex(ctx, in.UserID, append(ids, id)); err != nil {
		return nil, &MetadataError{Op: "score index append", Err: err}
	}

	logger.Info("score uploaded",
		logger.String("scoreId", id),
		logger.Int64("userId", in.UserID),
		logger.Int64("size", in.Size),
		logger.String("fileType", in.ContentType))
	return score, nil
}

// ConvertInput carries one conversion request. A zero Tempo means the
// default of 120 BPM.
type ConvertInput struct {
	UserID      int64
	ScoreID     string
	Instruments []string
	SATBConfig  *model.SATBConfig
	Tempo       int
}

// Convert persists a new Conversion in processing state, appends it to the
// user's conversion index, and hands the job off to the dispatcher without
// waiting for synthesis. Multiple concurrent conversions of the same score
// are all legal and independent.
func (e *Engine) Convert(ctx context.Context, in ConvertInput) (*model.Conversion, error) {
	tempo := in.Tempo
	if tempo == 0 {
		tempo = model.DefaultTempo
	}
	if tempo < model.MinTempo || tempo > model.MaxTempo {
		return nil, NewValidationError(fmt.Sprintf(
			"tempo must be between %d and %d BPM", model.MinTempo, model.MaxTempo))
	}
	if len(in.Instruments) == 0 && in.SATBConfig == nil {
		return nil, NewValidationError("either instruments or a SATB configuration is required")
	}

	score, err := e.scores.GetByID(ctx, in.ScoreID)
	if err != nil {
		return nil, &MetadataError{Op: "score load", Err: err}
	}
	if score == nil || score.UserID != in.UserID {
		return nil, ErrNotFound
	}

	now := e.now()
	instruments := in.Instruments
	if instruments == nil {
		instruments = []string{}
	}

	conv := &model.Conversion{
		ID:          newEntityID(in.UserID, now),
		ScoreID:     score.ID,
		UserID:      in.UserID,
		Instruments: instruments,
		SATBConfig:  in.SATBConfig,
		Tempo:       tempo,
		Status:      model.StatusProcessing,
		CreatedAt:   now,
	}

	if err := e.convs.Save(ctx, conv); err != nil {
		return nil, &MetadataError{Op: "conversion save", Err: err}
	}

	unlock := e.locks.lock(in.UserID)
	ids, err := e.index.GetConversionIndex(ctx, in.UserID)
	if err != nil {
		unlock()
		return nil, &MetadataError{Op: "conversion index read", Err: err}
	}
	if err := e.index.SetConversionIndex(ctx, in.UserID, append(ids, conv.ID)); err != nil {
		unlock()
		return nil, &MetadataError{Op: "conversion index append", Err: err}
	}
	unlock()

	if e.dispatch != nil {
		e.dispatch(synth.Job{
			ConversionID: conv.ID,
			ScoreID:      score.ID,
			UserID:       in.UserID,
			ScorePath:    score.FilePath,
			Instruments:  conv.Instruments,
			SATBConfig:   conv.SATBConfig,
			Tempo:        conv.Tempo,
		})
	} else {
		logger.Warn("no dispatcher attached, conversion will stay in processing",
			logger.String("conversionId", conv.ID))
	}

	logger.Info("conversion started",
		logger.String("conversionId", conv.ID),
		logger.String("scoreId", score.ID),
		logger.Int64("userId", in.UserID),
		logger.Int("tempo", tempo))
	return conv, nil
}

// CompleteConversion records a job outcome. Missing or already-terminal
// records make this a logged no-op rather than an overwrite: a completion
// racing a cascade delete must not resurrect a deleted conversion, and a
// terminal state is never left.
func (e *Engine) CompleteConversion(ctx context.Context, conversionID string, result *synth.Result, jobErr error) error {
	conv, err := e.convs.GetByID(ctx, conversionID)
	if err != nil {
		return &MetadataError{Op: "conversion load", Err: err}
	}
	if conv == nil {
		logger.Warn("completion for unknown conversion, dropping",
			logger.String("conversionId", conversionID))
		return nil
	}

	// Completion and cascade deletion take the same per-user lock, so the
	// existence re-check below is race-free.
	unlock := e.locks.lock(conv.UserID)
	defer unlock()

	conv, err = e.convs.GetByID(ctx, conversionID)
	if err != nil {
		return &MetadataError{Op: "conversion reload", Err: err}
	}
	if conv == nil {
		logger.Warn("conversion deleted while job was in flight, dropping completion",
			logger.String("conversionId", conversionID))
		return nil
	}
	if conv.Terminal() {
		logger.Warn("completion for already-terminal conversion, dropping",
			logger.String("conversionId", conversionID),
			logger.String("status", conv.Status))
		return nil
	}

	now := e.now()
	conv.CompletedAt = &now

	if jobErr != nil {
		conv.Status = model.StatusFailed
		conv.Error = jobErr.Error()
	} else {
		audioURL, err := e.blobs.PresignedURL(ctx, e.cfg.MediaBucket, result.AudioPath, e.cfg.SignedURLTTL)
		if err != nil {
			return &StorageError{Op: "audio url issuance", Err: err}
		}
		midiURL, err := e.blobs.PresignedURL(ctx, e.cfg.MediaBucket, result.MIDIPath, e.cfg.SignedURLTTL)
		if err != nil {
			return &StorageError{Op: "midi url issuance", Err: err}
		}

		conv.Status = model.StatusCompleted
		conv.AudioPath = result.AudioPath
		conv.MIDIPath = result.MIDIPath
		conv.AudioURL = audioURL
		conv.MIDIURL = midiURL
	}

	if err := e.convs.Save(ctx, conv); err != nil {
		return &MetadataError{Op: "conversion completion save", Err: err}
	}

	logger.Info("conversion finished",
		logger.String("conversionId", conv.ID),
		logger.String("status", conv.Status))
	return nil
}

// HandleCompletion adapts CompleteConversion to the dispatcher's callback
// signature; store failures here have no caller to surface to, so they are
// only logged.
func (e *Engine) HandleCompletion(ctx context.Context, conversionID string, result *synth.Result, jobErr error) {
	if err := e.CompleteConversion(ctx, conversionID, result, jobErr); err != nil {
		logger.Error("failed to record conversion outcome",
			logger.String("conversionId", conversionID),
			logger.ErrorField(err))
	}
}

// GetConversion returns the full conversion record for its owner.
func (e *Engine) GetConversion(ctx context.Context, userID int64, conversionID string) (*model.Conversion, error) {
	conv, err := e.convs.GetByID(ctx, conversionID)
	if err != nil {
		return nil, &MetadataError{Op: "conversion load", Err: err}
	}
	if conv == nil || conv.UserID != userID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// ListLibrary returns the user's scores, newest first, each carrying its
// conversions in index order. Index entries whose target has been deleted
// are silently dropped; the indexes are advisory caches, not truth.
func (e *Engine) ListLibrary(ctx context.Context, userID int64) ([]*model.Score, error) {
	scoreIDs, err := e.index.GetScoreIndex(ctx, userID)
	if err != nil {
		return nil, &MetadataError{Op: "score index read", Err: err}
	}
	convIDs, err := e.index.GetConversionIndex(ctx, userID)
	if err != nil {
		return nil, &MetadataError{Op: "conversion index read", Err: err}
	}

	scores, err := e.scores.GetMany(ctx, scoreIDs)
	if err != nil {
		return nil, &MetadataError{Op: "score fetch", Err: err}
	}
	convs, err := e.convs.GetMany(ctx, convIDs)
	if err != nil {
		return nil, &MetadataError{Op: "conversion fetch", Err: err}
	}

	byScore := make(map[string][]*model.Conversion)
	for _, conv := range convs {
		byScore[conv.ScoreID] = append(byScore[conv.ScoreID], conv)
	}

	for _, score := range scores {
		if attached, ok := byScore[score.ID]; ok {
			score.Conversions = attached
		} else {
			score.Conversions = []*model.Conversion{}
		}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].UploadedAt.Equal(scores[j].UploadedAt) {
			return scores[i].ID > scores[j].ID
		}
		return scores[i].UploadedAt.After(scores[j].UploadedAt)
	})

	return scores, nil
}

// DeleteScore removes a score, its blob, and every conversion referencing
// it. Blob removals are best-effort: a transiently unavailable object store
// must not leave the metadata orphaned, so storage failures are logged and
// the metadata cleanup proceeds.
func (e *Engine) DeleteScore(ctx context.Context, userID int64, scoreID string) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	score, err := e.scores.GetByID(ctx, scoreID)
	if err != nil {
		return &MetadataError{Op: "score load", Err: err}
	}
	if score == nil || score.UserID != userID {
		return ErrNotFound
	}

	if err := e.blobs.Remove(ctx, e.cfg.ScoreBucket, score.FilePath); err != nil {
		logger.Warn("failed to remove score blob, continuing",
			logger.String("scoreId", scoreID),
			logger.String("path", score.FilePath),
			logger.ErrorField(err))
	}

	convIDs, err := e.index.GetConversionIndex(ctx, userID)
	if err != nil {
		return &MetadataError{Op: "conversion index read", Err: err}
	}
	convs, err := e.convs.GetMany(ctx, convIDs)
	if err != nil {
		return &MetadataError{Op: "conversion fetch", Err: err}
	}

	deleted := make(map[string]bool)
	for _, conv := range convs {
		if conv.ScoreID != scoreID {
			continue
		}

		if conv.AudioPath != "" {
			if err := e.blobs.Remove(ctx, e.cfg.MediaBucket, conv.AudioPath); err != nil {
				logger.Warn("failed to remove audio blob, continuing",
					logger.String("conversionId", conv.ID),
					logger.ErrorField(err))
			}
		}
		if conv.MIDIPath != "" {
			if err := e.blobs.Remove(ctx, e.cfg.MediaBucket, conv.MIDIPath); err != nil {
				logger.Warn("failed to remove midi blob, continuing",
					logger.String("conversionId", conv.ID),
					logger.ErrorField(err))
			}
		}

		if err := e.convs.Delete(ctx, conv.ID); err != nil {
			return &MetadataError{Op: "conversion delete", Err: err}
		}
		deleted[conv.ID] = true
	}

	remaining := make([]string, 0, len(convIDs))
	for _, id := range convIDs {
		if !deleted[id] {
			remaining = append(remaining, id)
		}
	}
	if err := e.index.SetConversionIndex(ctx, userID, remaining); err != nil {
		return &MetadataError{Op: "conversion index rewrite", Err: err}
	}

	if err := e.scores.Delete(ctx, scoreID); err != nil {
		return &MetadataError{Op: "score delete", Err: err}
	}

	scoreIDs, err := e.index.GetScoreIndex(ctx, userID)
	if err != nil {
		return &MetadataError{Op: "score index read", Err: err}
	}
	kept := make([]string, 0, len(scoreIDs))
	for _, id := range scoreIDs {
		if id != scoreID {
			kept = append(kept, id)
		}
	}
	if err := e.index.SetScoreIndex(ctx, userID, kept); err != nil {
		return &MetadataError{Op: "score index rewrite", Err: err}
	}

	logger.Info("score deleted",
		logger.String("scoreId", scoreID),
		logger.Int64("userId", userID),
		logger.Int("conversionsRemoved", len(deleted)))
	return nil
}

// RebuildIndexes re-derives both per-user indexes from a full prefix scan
// of the metadata store, ordered by creation time. Used for operational
// reconciliation when an index document is lost or corrupted.
func (e *Engine) RebuildIndexes(ctx context.Context, userID int64) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	scoreIDs, err := e.scores.ScanUserIDs(ctx, userID)
	if err != nil {
		return &MetadataError{Op: "score scan", Err: err}
	}
	scores, err := e.scores.GetMany(ctx, scoreIDs)
	if err != nil {
		return &MetadataError{Op: "score fetch", Err: err}
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].UploadedAt.Before(scores[j].UploadedAt)
	})
	orderedScores := make([]string, 0, len(scores))
	for _, s := range scores {
		orderedScores = append(orderedScores, s.ID)
	}
	if err := e.index.SetScoreIndex(ctx, userID, orderedScores); err != nil {
		return &MetadataError{Op: "score index rewrite", Err: err}
	}

	convIDs, err := e.convs.ScanUserIDs(ctx, userID)
	if err != nil {
		return &MetadataError{Op: "conversion scan", Err: err}
	}
	convs, err := e.convs.GetMany(ctx, convIDs)
	if err != nil {
		return &MetadataError{Op: "conversion fetch", Err: err}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
	orderedConvs := make([]string, 0, len(convs))
	for _, c := range convs {
		orderedConvs = append(orderedConvs, c.ID)
	}
	if err := e.index.SetConversionIndex(ctx, userID, orderedConvs); err != nil {
		return &MetadataError{Op: "conversion index rewrite", Err: err}
	}

	logger.Info("indexes rebuilt",
		logger.Int64("userId", userID),
		logger.Int("scores", len(orderedScores)),
		logger.Int("conversions", len(orderedConvs)))
	return nil
}
