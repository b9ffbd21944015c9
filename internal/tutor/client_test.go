package tutor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"parlo/internal/connectivity"
	"parlo/internal/gateway"
	"parlo/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testGateway() *gateway.Gateway {
	return gateway.New(connectivity.Static{Reachable: true}, gateway.Config{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		Jitter:     time.Millisecond,
	})
}

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, messagesPath, r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "conv-1", req.ConversationID)
		assert.Equal(t, "yo comer manzana", req.Text)

		json.NewEncoder(w).Encode(Reply{
			ConversationID: req.ConversationID,
			Text:           "¡Muy bien!",
			Corrected:      "yo como una manzana",
			Natural:        "me como una manzana",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", testGateway())

	reply, err := client.SendMessage(context.Background(), SendMessageRequest{
		ConversationID: "conv-1",
		Text:           "yo comer manzana",
		Language:       "es",
		Difficulty:     "beginner",
		Tempo:          1.0,
	})

	require.NoError(t, err)
	assert.Equal(t, "yo como una manzana", reply.Corrected)
	assert.Equal(t, "me como una manzana", reply.Natural)
}

func TestClient_SendVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, voicePath, r.URL.Path)

		var req SendVoiceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://bucket/audio/rec.ogg", req.AudioURL)

		json.NewEncoder(w).Encode(Reply{
			ConversationID: req.ConversationID,
			Text:           "Te escuché bien",
			Transcript:     "hola que tal",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", testGateway())

	reply, err := client.SendVoice(context.Background(), SendVoiceRequest{
		ConversationID: "conv-2",
		AudioURL:       "https://bucket/audio/rec.ogg",
		Language:       "es",
	})

	require.NoError(t, err)
	assert.Equal(t, "hola que tal", reply.Transcript)
}

func TestClient_QuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"monthly quota exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", testGateway())

	_, err := client.SendMessage(context.Background(), SendMessageRequest{ConversationID: "c"})
	require.Error(t, err)

	var ce *gateway.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gateway.ErrorQuota, ce.Type)
}

func TestClient_OfflineError(t *testing.T) {
	gw := gateway.New(connectivity.Static{Reachable: false}, gateway.Config{
		Timeout:    time.Second,
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
	})
	client := NewClient("http://example.invalid", "k", gw)

	_, err := client.SendMessage(context.Background(), SendMessageRequest{ConversationID: "c"})
	require.Error(t, err)

	var ce *gateway.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gateway.ErrorNetwork, ce.Type)
}

func TestIsGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"conversation not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", testGateway())

	_, err := client.SendMessage(context.Background(), SendMessageRequest{ConversationID: "deleted"})
	require.Error(t, err)
	assert.True(t, IsGone(err))
	assert.False(t, IsGone(context.DeadlineExceeded))
}
