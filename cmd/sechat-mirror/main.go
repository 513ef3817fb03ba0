package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sechat/chat"
	"sechat/internal/browser"
	"sechat/internal/config"
	"sechat/internal/mirror"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if cfg.Email == "" || cfg.Password == "" {
		log.Fatal("CHAT_EMAIL and CHAT_PASSWORD are required")
	}
	if len(cfg.RoomIDs) == 0 {
		log.Fatal("CHAT_ROOMS is required (comma-separated room ids)")
	}

	br, err := browser.New(cfg.Host)
	if err != nil {
		log.Fatal("Failed to create browser: ", err)
	}

	client := chat.NewClient(br)
	if err := client.Login(cfg.Email, cfg.Password); err != nil {
		log.Fatal("Login failed: ", err)
	}

	publisher, err := mirror.NewPublisher(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}

	seen := mirror.NewDeduper(4096)
	handler := func(ev *chat.Event, _ *chat.Client) {
		if seen.Seen(ev.ID) {
			return
		}
		if err := publisher.PublishEvent(ev); err != nil {
			slog.Error("[MIRROR] Dropping event", "id", ev.ID, "room", ev.RoomID, "error", err)
		}
	}

	interval := time.Duration(cfg.PollInterval) * time.Second
	var rooms []*chat.Room
	for _, id := range cfg.RoomIDs {
		room := client.GetRoom(id)
		if err := room.Join(); err != nil {
			log.Fatalf("Failed to join room %d: %v", id, err)
		}
		if _, err := room.Watch(handler); err != nil {
			log.Fatalf("Failed to watch room %d: %v", id, err)
		}
		// polling alongside the socket catches anything the push channel drops
		if _, err := room.WatchPolling(handler, interval); err != nil {
			log.Fatalf("Failed to poll room %d: %v", id, err)
		}
		rooms = append(rooms, room)
		slog.Info("[MIRROR] Watching room", "room", id)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("[MIRROR] Shutting down")

	for _, room := range rooms {
		if err := room.Leave(); err != nil {
			slog.Warn("[MIRROR] Failed to leave room", "room", room.ID, "error", err)
		}
	}
	if err := client.Logout(); err != nil {
		slog.Warn("[MIRROR] Logout failed", "error", err)
	}
	if err := publisher.Close(); err != nil {
		slog.Warn("[MIRROR] Redis close failed", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
