package drain

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"parlo/internal/gateway"
	"parlo/internal/offline"
	"parlo/internal/tutor"
	"parlo/pkg/kvstore"
	"parlo/pkg/logger"
	"parlo/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendMessage(ctx context.Context, req tutor.SendMessageRequest) (*tutor.Reply, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tutor.Reply), args.Error(1)
}

func (m *MockSender) SendVoice(ctx context.Context, req tutor.SendVoiceRequest) (*tutor.Reply, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tutor.Reply), args.Error(1)
}

type MockAudioStore struct {
	mock.Mock
}

func (m *MockAudioStore) UploadAudio(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockAudioStore) GenerateKey(actionID, extension string) string {
	args := m.Called(actionID, extension)
	return args.String(0)
}

func (m *MockAudioStore) DeleteAudio(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) SaveExchange(ctx context.Context, ex *model.Exchange) error {
	args := m.Called(ctx, ex)
	return args.Error(0)
}

func fastDrainConfig() Config {
	return Config{
		MaxAttempts: 5,
		Concurrency: 1,
		ReplayRate:  100,
		RateWindow:  1,
	}
}

func enqueueText(t *testing.T, q *offline.Queue, text string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), model.ActionText, model.Payload{
		model.PayloadConversationID: "conv-1",
		model.PayloadText:           text,
		model.PayloadLanguage:       "es",
	})
	require.NoError(t, err)
	return id
}

func TestDrainer_ReplaysAndRemoves(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	enqueueText(t, q, "hola")

	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(req tutor.SendMessageRequest) bool {
		return req.Text == "hola" && req.ConversationID == "conv-1"
	})).Return(&tutor.Reply{Text: "¡hola!", Corrected: "hola"}, nil)

	archive := new(MockArchiver)
	archive.On("SaveExchange", mock.Anything, mock.AnythingOfType("*model.Exchange")).Return(nil)

	d := New(q, sender, nil, archive, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Replayed: 1}, result)

	remaining, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	sender.AssertExpectations(t)
	archive.AssertExpectations(t)
}

func TestDrainer_NetworkFailureKeepsAndBumpsAttempts(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	id := enqueueText(t, q, "hola")

	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, &gateway.ClassifiedError{Type: gateway.ErrorNetwork, Message: "network request failed"})

	d := New(q, sender, nil, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Kept: 1}, result)

	remaining, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, id, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].Attempts)
}

func TestDrainer_GoneResourceDiscards(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	enqueueText(t, q, "hola")

	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, &gateway.StatusError{Status: http.StatusNotFound, Message: "conversation not found"})

	d := New(q, sender, nil, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Discarded: 1}, result)

	remaining, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDrainer_AttemptsExhaustedDiscards(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	id := enqueueText(t, q, "hola")

	attempts := 4 // next failure is attempt 5 of 5
	require.NoError(t, q.Update(ctx, id, model.ActionPatch{Attempts: &attempts}))

	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, &gateway.ClassifiedError{Type: gateway.ErrorNetwork, Message: "still down"})

	d := New(q, sender, nil, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Discarded: 1}, result)
}

func TestDrainer_UnknownErrorDiscards(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	enqueueText(t, q, "hola")

	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("malformed request"))

	d := New(q, sender, nil, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Discarded: 1}, result)
}

func TestDrainer_VoiceUploadsBeforeSending(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	recording := filepath.Join(t.TempDir(), "rec.ogg")
	require.NoError(t, os.WriteFile(recording, []byte("opus-bytes"), 0o644))

	id, err := q.Enqueue(ctx, model.ActionVoice, model.Payload{
		model.PayloadConversationID: "conv-1",
		model.PayloadAudioPath:      recording,
		model.PayloadLanguage:       "es",
	})
	require.NoError(t, err)

	uploader := new(MockAudioStore)
	uploader.On("GenerateKey", id, ".ogg").Return("audio/2026/08/27/" + id + ".ogg")
	uploader.On("UploadAudio", mock.Anything, "audio/2026/08/27/"+id+".ogg", mock.Anything, "audio/ogg").
		Return("https://blobs/audio/"+id+".ogg", nil)

	sender := new(MockSender)
	sender.On("SendVoice", mock.Anything, mock.MatchedBy(func(req tutor.SendVoiceRequest) bool {
		return req.AudioURL == "https://blobs/audio/"+id+".ogg"
	})).Return(&tutor.Reply{Text: "bien", Transcript: "hola"}, nil)

	d := New(q, sender, uploader, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Replayed: 1}, result)

	uploader.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestDrainer_VoiceReusesUploadedURL(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.ActionVoice, model.Payload{
		model.PayloadConversationID: "conv-1",
		model.PayloadAudioURL:       "https://blobs/audio/already-there.ogg",
	})
	require.NoError(t, err)

	uploader := new(MockAudioStore) // no expectations: must not be called

	sender := new(MockSender)
	sender.On("SendVoice", mock.Anything, mock.MatchedBy(func(req tutor.SendVoiceRequest) bool {
		return req.AudioURL == "https://blobs/audio/already-there.ogg"
	})).Return(&tutor.Reply{Text: "ok"}, nil)

	d := New(q, sender, uploader, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Replayed: 1}, result)

	uploader.AssertExpectations(t)
}

func TestDrainer_DiscardDeletesUploadedAudio(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, model.ActionVoice, model.Payload{
		model.PayloadConversationID: "conv-gone",
		model.PayloadAudioURL:       "https://blobs/audio/orphan.ogg",
		model.PayloadAudioKey:       "audio/2026/08/20/orphan.ogg",
	})
	require.NoError(t, err)

	sender := new(MockSender)
	sender.On("SendVoice", mock.Anything, mock.Anything).
		Return(nil, &gateway.StatusError{Status: http.StatusNotFound, Message: "conversation not found"})

	uploader := new(MockAudioStore)
	uploader.On("DeleteAudio", mock.Anything, "audio/2026/08/20/orphan.ogg").Return(nil)

	d := New(q, sender, uploader, nil, fastDrainConfig())

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Discarded: 1}, result)

	uploader.AssertExpectations(t)

	remaining, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDrainer_EmptyQueueIsNoop(t *testing.T) {
	q := offline.New(kvstore.NewMemoryStore())

	sender := new(MockSender)
	d := New(q, sender, nil, nil, fastDrainConfig())

	result, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	sender.AssertExpectations(t)
}
