package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classcast/live-app/internal/auth"
	"github.com/classcast/live-app/internal/ban"
	"github.com/classcast/live-app/internal/live"
	"github.com/classcast/live-app/internal/messaging"
	"github.com/classcast/live-app/internal/moderation"
	"github.com/classcast/live-app/internal/presence"
	"github.com/classcast/live-app/internal/protocol"
	"github.com/classcast/live-app/internal/ratelimit"
	"github.com/classcast/live-app/internal/room"
	"github.com/classcast/live-app/internal/storage"
	"github.com/classcast/live-app/internal/user"
	"github.com/classcast/live-app/internal/violation"
	"github.com/classcast/live-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// --- PostgreSQL ---
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost/liveapp?sslmode=disable"
	}
	db, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := storage.Migrate(db, "file://migrations"); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Printf("migrations applied")
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
	}

	// --- Stores and services ---
	users := user.NewStore(db)
	lives := live.NewStore(db)
	ledger := violation.NewLedger(db)
	bans := ban.NewService(users)
	presenceStore := presence.NewStore(redisClient)
	limiter := ratelimit.NewLimiter(redisClient)
	verifier := auth.NewJWTVerifier([]byte(jwtSecret))

	registry := room.NewRegistry(natsClient, lives, presenceStore)
	pipeline := moderation.NewPipeline(moderation.NewFilter(), bans, ledger, users, registry)

	log.Printf("live-app WebSocket server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	dispatcher := ws.NewMessageDispatcher(nil)

	sendError := func(conn *ws.Connection, code, message string) {
		resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: code, Message: message,
		})
		_ = conn.WriteMessage(resp)
	}

	// loadSession resolves the target livestream and maps lookup failures to
	// client-facing error events. Returns nil when the handler should bail.
	loadSession := func(ctx context.Context, conn *ws.Connection, liveID string) *live.LiveStream {
		if liveID == "" {
			sendError(conn, "not_found", "live session not found")
			return nil
		}
		sess, err := lives.FindByID(ctx, liveID)
		if errors.Is(err, live.ErrNotFound) {
			sendError(conn, "not_found", "live session not found")
			return nil
		}
		if err != nil {
			log.Printf("[join] load live=%s: %v", liveID, err)
			sendError(conn, "storage_unavailable", "service temporarily unavailable")
			return nil
		}
		return sess
	}

	// -----------------------------------------------------------------------
	// join-live — enter a session's chat room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinLive, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinLiveMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleJoin); !allowed {
			sendError(conn, "rate_limited", "too many join attempts, slow down")
			return
		}

		sess := loadSession(ctx, conn, joinMsg.LiveID)
		if sess == nil {
			return
		}

		// Banned users are turned away at the door.
		banned, until, err := bans.IsCurrentlyBanned(ctx, conn.UserID)
		if err != nil {
			log.Printf("[join] ban check user=%s: %v", conn.UserID, err)
			sendError(conn, "storage_unavailable", "service temporarily unavailable")
			return
		}
		if banned {
			resp, _ := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
				Message:     "You are banned from this live session",
				BannedUntil: until,
			})
			_ = conn.WriteMessage(resp)
			log.Printf("[join] rejected banned user=%s live=%s", conn.UserID, sess.ID)
			return
		}

		if err := registry.Join(ctx, sess.ID, conn.UserID, conn.UserName, conn); err != nil {
			log.Printf("[join] user=%s live=%s: %v", conn.UserID, sess.ID, err)
			sendError(conn, "storage_unavailable", "service temporarily unavailable")
			return
		}

		log.Printf("join-live user=%s live=%s", conn.UserID, sess.ID)
	})

	// -----------------------------------------------------------------------
	// send-message — run a chat message through moderation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage); !allowed {
			sendError(conn, "rate_limited", "too many messages, slow down")
			return
		}

		if err := protocol.ValidateMessageText(chatMsg.Message); err != nil {
			sendError(conn, "invalid_message", err.Error())
			return
		}

		sess := loadSession(ctx, conn, chatMsg.LiveID)
		if sess == nil {
			return
		}

		if !sess.Settings.AllowChat {
			sendError(conn, "chat_disabled", "chat is disabled for this live session")
			return
		}

		outcome, err := pipeline.Process(ctx, sess, moderation.Identity{
			UserID: conn.UserID,
			Name:   conn.UserName,
			Role:   conn.UserRole,
		}, conn, chatMsg.Message)
		if err != nil {
			log.Printf("[message] user=%s live=%s: %v", conn.UserID, sess.ID, err)
			if errors.Is(err, storage.ErrUnavailable) {
				sendError(conn, "storage_unavailable", "message could not be processed")
			} else {
				sendError(conn, "internal_error", "message could not be processed")
			}
			return
		}

		log.Printf("send-message user=%s live=%s outcome=%s", conn.UserID, sess.ID, outcome)
	})

	// -----------------------------------------------------------------------
	// leave-live — leave a session's chat room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveLive, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveLiveMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := registry.Leave(ctx, leaveMsg.LiveID, conn.UserID, conn); err != nil {
			log.Printf("[leave] user=%s live=%s: %v", conn.UserID, leaveMsg.LiveID, err)
		}
		log.Printf("leave-live user=%s live=%s", conn.UserID, leaveMsg.LiveID)
	})

	server := ws.NewServer(config, verifier, users, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Release room membership when a connection drops without leave-live.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		registry.DropConnection(ctx, conn.UserID, conn)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		natsClient.Close()
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
