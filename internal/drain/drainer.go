package drain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"parlo/internal/gateway"
	"parlo/internal/offline"
	"parlo/internal/tutor"
	"parlo/pkg/logger"
	"parlo/pkg/model"
	"parlo/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender replays actions against the backend.
type Sender interface {
	SendMessage(ctx context.Context, req tutor.SendMessageRequest) (*tutor.Reply, error)
	SendVoice(ctx context.Context, req tutor.SendVoiceRequest) (*tutor.Reply, error)
}

// AudioStore moves a locally recorded file into object storage before a
// voice action replays, and deletes the object again when the action is
// discarded without ever being delivered.
type AudioStore interface {
	UploadAudio(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	GenerateKey(actionID, extension string) string
	DeleteAudio(ctx context.Context, key string) error
}

// Archiver records successfully replayed exchanges. Optional.
type Archiver interface {
	SaveExchange(ctx context.Context, ex *model.Exchange) error
}

// Config bounds one drain pass.
type Config struct {
	MaxAttempts int // per-action attempts before the item is discarded
	Concurrency int
	ReplayRate  int           // replays allowed per rate interval
	RateWindow  time.Duration // rate interval
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Concurrency: 2,
		ReplayRate:  4,
		RateWindow:  time.Second,
	}
}

// Result summarizes a drain pass.
type Result struct {
	Replayed  int
	Kept      int
	Discarded int
}

// Drainer replays the offline queue through the gateway-backed client.
// The queue itself never auto-replays; this is the external trigger the
// contract requires.
type Drainer struct {
	queue   *offline.Queue
	sender  Sender
	audio   AudioStore
	archive Archiver
	limiter *resilience.RateLimiter
	cfg     Config
}

func New(queue *offline.Queue, sender Sender, audio AudioStore, archive Archiver, cfg Config) *Drainer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.ReplayRate <= 0 {
		cfg.ReplayRate = DefaultConfig().ReplayRate
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultConfig().RateWindow
	}

	return &Drainer{
		queue:   queue,
		sender:  sender,
		audio:   audio,
		archive: archive,
		limiter: resilience.NewRateLimiter(cfg.ReplayRate, cfg.RateWindow),
		cfg:     cfg,
	}
}

// Drain replays every pending action once. Successful replays are removed,
// still-transient failures stay with an incremented attempt count, and
// terminal failures (resource gone server-side, attempts exhausted) are
// discarded.
func (d *Drainer) Drain(ctx context.Context) (Result, error) {
	actions, err := d.queue.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list queue: %w", err)
	}

	if len(actions) == 0 {
		return Result{}, nil
	}

	logger.Info("Draining offline queue", zap.Int("pending", len(actions)))

	var result Result
	outcomes := make([]replayResult, len(actions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for i, action := range actions {
		i, action := i, action
		g.Go(func() error {
			if err := d.limiter.Wait(gctx); err != nil {
				return err
			}
			outcomes[i] = d.replay(gctx, action)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	for i, action := range actions {
		switch outcomes[i].outcome {
		case outcomeReplayed:
			result.Replayed++
			if err := d.queue.Remove(ctx, action.ID); err != nil {
				logger.Error("Failed to remove replayed action", zap.String("action_id", action.ID), zap.Error(err))
			}
			d.record(ctx, action, outcomes[i].reply)
		case outcomeDiscarded:
			result.Discarded++
			if err := d.queue.Remove(ctx, action.ID); err != nil {
				logger.Error("Failed to discard action", zap.String("action_id", action.ID), zap.Error(err))
			}
			d.cleanupAudio(ctx, action)
		case outcomeKept:
			result.Kept++
			attempts := action.Attempts + 1
			if err := d.queue.Update(ctx, action.ID, model.ActionPatch{Attempts: &attempts}); err != nil {
				logger.Error("Failed to bump attempts", zap.String("action_id", action.ID), zap.Error(err))
			}
		}
	}

	logger.Info("Drain pass complete",
		zap.Int("replayed", result.Replayed),
		zap.Int("kept", result.Kept),
		zap.Int("discarded", result.Discarded))

	return result, nil
}

type outcome int

const (
	outcomeKept outcome = iota
	outcomeReplayed
	outcomeDiscarded
)

type replayResult struct {
	outcome outcome
	reply   *tutor.Reply
}

func (d *Drainer) replay(ctx context.Context, action *model.QueuedAction) replayResult {
	reply, err := d.send(ctx, action)
	if err == nil {
		return replayResult{outcome: outcomeReplayed, reply: reply}
	}

	if tutor.IsGone(err) {
		logger.Warn("Replay target no longer exists, discarding",
			zap.String("action_id", action.ID),
			zap.Error(err))
		return replayResult{outcome: outcomeDiscarded}
	}

	if action.Attempts+1 >= d.cfg.MaxAttempts {
		logger.Warn("Replay attempts exhausted, discarding",
			zap.String("action_id", action.ID),
			zap.Int("attempts", action.Attempts+1))
		return replayResult{outcome: outcomeDiscarded}
	}

	ce := gateway.Classify(err)
	switch ce.Type {
	case gateway.ErrorNetwork, gateway.ErrorTimeout, gateway.ErrorServer, gateway.ErrorQuota:
		logger.Debug("Replay still failing, keeping action",
			zap.String("action_id", action.ID),
			zap.String("error_type", string(ce.Type)))
		return replayResult{outcome: outcomeKept}
	default:
		logger.Warn("Replay failed terminally, discarding",
			zap.String("action_id", action.ID),
			zap.String("error", ce.Message))
		return replayResult{outcome: outcomeDiscarded}
	}
}

func (d *Drainer) send(ctx context.Context, action *model.QueuedAction) (*tutor.Reply, error) {
	p := action.Payload

	switch action.Kind {
	case model.ActionText:
		return d.sender.SendMessage(ctx, tutor.SendMessageRequest{
			ConversationID: p.String(model.PayloadConversationID),
			Text:           p.String(model.PayloadText),
			Language:       p.String(model.PayloadLanguage),
			Difficulty:     p.String(model.PayloadDifficulty),
			Muted:          p.Bool(model.PayloadMuted),
			Tempo:          p.Float(model.PayloadTempo),
		})

	case model.ActionVoice:
		audioURL, err := d.audioURL(ctx, action)
		if err != nil {
			return nil, err
		}
		return d.sender.SendVoice(ctx, tutor.SendVoiceRequest{
			ConversationID: p.String(model.PayloadConversationID),
			AudioURL:       audioURL,
			Language:       p.String(model.PayloadLanguage),
			Difficulty:     p.String(model.PayloadDifficulty),
			Muted:          p.Bool(model.PayloadMuted),
			Tempo:          p.Float(model.PayloadTempo),
		})

	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// audioURL resolves the audio reference for a voice replay, uploading the
// local recording on first use and patching the URL and object key back
// into the payload so a later retry skips the upload and a discard can
// clean the object up.
func (d *Drainer) audioURL(ctx context.Context, action *model.QueuedAction) (string, error) {
	if url := action.Payload.String(model.PayloadAudioURL); url != "" {
		return url, nil
	}

	localPath := action.Payload.String(model.PayloadAudioPath)
	if localPath == "" {
		return "", errors.New("voice action carries no audio reference")
	}

	if d.audio == nil {
		return "", errors.New("no audio store configured for voice replay")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	key := d.audio.GenerateKey(action.ID, filepath.Ext(localPath))
	url, err := d.audio.UploadAudio(ctx, key, f, "audio/ogg")
	if err != nil {
		return "", err
	}

	patch := model.Payload{
		model.PayloadAudioURL: url,
		model.PayloadAudioKey: key,
	}
	// The in-memory action must see the key too: a discard later in the
	// same pass works from this snapshot, not a re-read.
	model.ActionPatch{Payload: patch}.Apply(action)

	if err := d.queue.Update(ctx, action.ID, model.ActionPatch{Payload: patch}); err != nil {
		logger.Error("Failed to persist uploaded audio URL",
			zap.String("action_id", action.ID),
			zap.Error(err))
	}

	return url, nil
}

// cleanupAudio removes the uploaded recording of a discarded voice action.
func (d *Drainer) cleanupAudio(ctx context.Context, action *model.QueuedAction) {
	if d.audio == nil || action.Kind != model.ActionVoice {
		return
	}

	key := action.Payload.String(model.PayloadAudioKey)
	if key == "" {
		return
	}

	if err := d.audio.DeleteAudio(ctx, key); err != nil {
		logger.Error("Failed to delete discarded recording",
			zap.String("action_id", action.ID),
			zap.String("key", key),
			zap.Error(err))
		return
	}

	logger.Debug("Discarded recording deleted",
		zap.String("action_id", action.ID),
		zap.String("key", key))
}

func (d *Drainer) record(ctx context.Context, action *model.QueuedAction, reply *tutor.Reply) {
	if d.archive == nil || reply == nil {
		return
	}

	sent := action.Payload.String(model.PayloadText)
	if action.Kind == model.ActionVoice {
		sent = reply.Transcript
	}

	ex := &model.Exchange{
		ID:             uuid.New().String(),
		ConversationID: action.Payload.String(model.PayloadConversationID),
		Kind:           action.Kind,
		Sent:           sent,
		Reply:          reply.Text,
		Corrected:      reply.Corrected,
		Natural:        reply.Natural,
		CreatedAt:      time.Now(),
	}

	if err := d.archive.SaveExchange(ctx, ex); err != nil {
		logger.Error("Failed to archive exchange",
			zap.String("action_id", action.ID),
			zap.Error(err))
	}
}

// Run drains on every connectivity-restored edge and on a periodic tick,
// until the context ends.
func (d *Drainer) Run(ctx context.Context, interval time.Duration, edges <-chan bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-edges:
			if !ok {
				return
			}
		}

		if _, err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Drain pass failed", zap.Error(err))
		}
	}
}
