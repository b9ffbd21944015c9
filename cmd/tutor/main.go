package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"parlo/internal/config"
	"parlo/internal/connectivity"
	"parlo/internal/diff"
	"parlo/internal/gateway"
	"parlo/internal/history"
	"parlo/internal/offline"
	"parlo/internal/settings"
	"parlo/internal/tutor"
	"parlo/pkg/kvstore"
	"parlo/pkg/logger"
	"parlo/pkg/model"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Init("info"); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting parlo tutoring client")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
		return
	}

	if cfg.Log.Level != "info" {
		if err := logger.Init(cfg.Log.Level); err != nil {
			logger.Fatal("Failed to reconfigure logger", zap.Error(err))
			return
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open local storage", zap.Error(err))
		return
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prefs := settings.NewStore(store, time.Duration(cfg.Settings.DebounceMs)*time.Millisecond)
	if err := prefs.Load(ctx); err != nil {
		logger.Warn("Failed to load settings, using defaults", zap.Error(err))
	}
	defer prefs.Close(context.Background())

	checker := connectivity.NewProbeChecker(
		cfg.Connectivity.ProbeAddr,
		time.Duration(cfg.Connectivity.ProbeTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Connectivity.CacheTTLMs)*time.Millisecond,
	)

	gw := gateway.New(checker, cfg.GatewayConfig())
	client := tutor.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, gw)
	queue := offline.New(store)

	var hist *history.Store
	if cfg.History.DSN != "" {
		hist, err = history.NewStore(cfg.History.DSN)
		if err != nil {
			logger.Warn("History store unavailable, /history disabled", zap.Error(err))
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	conversationID := uuid.New().String()
	logger.Info("Conversation started", zap.String("conversation_id", conversationID))

	fmt.Println("parlo: type a sentence, or /help for commands")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if strings.HasPrefix(line, "/") {
			handleCommand(ctx, line, prefs, queue, hist, conversationID)
			continue
		}

		sendText(ctx, client, queue, prefs, conversationID, line)
	}

	logger.Info("Client shutdown complete")
}

func openStore(cfg *config.Config) (kvstore.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return kvstore.NewRedisStore(
			cfg.Storage.Redis.Addr,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
		)
	default:
		return kvstore.NewFileStore(cfg.Storage.FilePath)
	}
}

func handleCommand(ctx context.Context, line string, prefs *settings.Store, queue *offline.Queue, hist *history.Store, conversationID string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Println("/lang <code>  /difficulty <level>  /tempo <0.5-1.5>  /mute  /pending  /history  /quit")
	case "/lang":
		if len(args) == 1 {
			prefs.Set(func(s *settings.Settings) { s.Language = args[0] })
			fmt.Println("language:", args[0])
		}
	case "/difficulty":
		if len(args) == 1 {
			prefs.Set(func(s *settings.Settings) { s.Difficulty = args[0] })
			fmt.Println("difficulty:", args[0])
		}
	case "/tempo":
		if len(args) == 1 {
			if tempo, err := strconv.ParseFloat(args[0], 64); err == nil {
				prefs.Set(func(s *settings.Settings) { s.Tempo = tempo })
				fmt.Println("tempo:", tempo)
			}
		}
	case "/mute":
		prefs.Set(func(s *settings.Settings) { s.Muted = !s.Muted })
		fmt.Println("muted:", prefs.Get().Muted)
	case "/pending":
		count, err := queue.Len(ctx)
		if err != nil {
			fmt.Println("could not read queue:", err)
			return
		}
		fmt.Printf("%d message(s) waiting for connectivity\n", count)
	case "/history":
		if hist == nil {
			fmt.Println("history is not configured")
			return
		}
		exchanges, err := hist.RecentExchanges(ctx, conversationID, 10)
		if err != nil {
			fmt.Println("could not read history:", err)
			return
		}
		if len(exchanges) == 0 {
			fmt.Println("no archived exchanges yet")
			return
		}
		for _, ex := range exchanges {
			fmt.Printf("[%s] you: %s\n", ex.CreatedAt.Format("15:04"), ex.Sent)
			fmt.Printf("        tutor: %s\n", ex.Reply)
		}
	default:
		fmt.Println("unknown command:", cmd)
	}
}

func sendText(ctx context.Context, client *tutor.Client, queue *offline.Queue, prefs *settings.Store, conversationID, text string) {
	s := prefs.Get()

	reply, err := client.SendMessage(ctx, tutor.SendMessageRequest{
		ConversationID: conversationID,
		Text:           text,
		Language:       s.Language,
		Difficulty:     s.Difficulty,
		Muted:          s.Muted,
		Tempo:          s.Tempo,
	})
	if err != nil {
		handleSendError(ctx, err, queue, conversationID, text, s)
		return
	}

	printReply(text, reply, s.Language)
}

// handleSendError queues the message when the failure is transient
// connectivity; the enqueue itself is best-effort and the original error
// is still surfaced.
func handleSendError(ctx context.Context, err error, queue *offline.Queue, conversationID, text string, s settings.Settings) {
	var ce *gateway.ClassifiedError
	if !errors.As(err, &ce) {
		fmt.Println("send failed:", err)
		return
	}

	switch ce.Type {
	case gateway.ErrorNetwork, gateway.ErrorTimeout:
		id, qErr := queue.Enqueue(ctx, model.ActionText, model.Payload{
			model.PayloadConversationID: conversationID,
			model.PayloadText:           text,
			model.PayloadLanguage:       s.Language,
			model.PayloadDifficulty:     s.Difficulty,
			model.PayloadMuted:          s.Muted,
			model.PayloadTempo:          s.Tempo,
		})
		if qErr != nil {
			logger.Error("Failed to queue message offline", zap.Error(qErr))
			fmt.Println("send failed:", ce.Message)
			return
		}
		fmt.Println("offline: message saved and will be sent when connectivity returns (", id, ")")
	case gateway.ErrorQuota:
		fmt.Println("usage limit reached, upgrade your plan to keep practicing")
	default:
		fmt.Println("something went wrong, try again later:", ce.Message)
	}
}

func printReply(sent string, reply *tutor.Reply, lang string) {
	fmt.Println("tutor:", reply.Text)

	opts := diff.Options{Language: lang, PositionThreshold: diff.DefaultPositionThreshold}

	if reply.Corrected != "" && !diff.Equivalent(sent, reply.Corrected, lang) {
		tokens := diff.Highlight(sent, reply.Corrected, diff.ModeCorrected, opts)
		fmt.Println("corrected:", diff.Markup(tokens, diff.ModeCorrected))
	}
	if reply.Natural != "" && !diff.Equivalent(sent, reply.Natural, lang) {
		tokens := diff.Highlight(sent, reply.Natural, diff.ModeNatural, opts)
		fmt.Println("natural:", diff.Markup(tokens, diff.ModeNatural))
	}
}
