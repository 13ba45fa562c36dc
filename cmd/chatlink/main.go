package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dorumdorum/chatlink/internal/config"
	"github.com/dorumdorum/chatlink/internal/credential"
	"github.com/dorumdorum/chatlink/internal/directory"
	"github.com/dorumdorum/chatlink/internal/domain"
	"github.com/dorumdorum/chatlink/internal/session"
	"github.com/dorumdorum/chatlink/internal/store"
	"github.com/dorumdorum/chatlink/internal/stream"
	"github.com/dorumdorum/chatlink/internal/transport"
	"github.com/dorumdorum/chatlink/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.L().Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Init(cfg.Log)
	l := log.L()

	token := os.Getenv("CHATLINK_TOKEN")
	if token == "" {
		l.Fatal().Msg("CHATLINK_TOKEN is not set")
	}
	creds := credential.NewStaticSource(token)

	dir := directory.New(cfg.Server.BaseURL, cfg.Directory.Timeout, creds)
	str := stream.New(cfg.Server.BaseURL+cfg.Server.StreamPath, creds, cfg.Stream.BackoffBase, cfg.Stream.BackoffCeiling)
	tr := transport.New(cfg.Server.WSURL, creds, transport.Config{
		RetryDelay:     cfg.Transport.RetryDelay,
		MaxRetries:     cfg.Transport.MaxRetries,
		PingInterval:   cfg.Transport.PingInterval,
		PongWait:       cfg.Transport.PongWait,
		WriteWait:      cfg.Transport.WriteWait,
		MaxMessageSize: cfg.Transport.MaxMessageSize,
	})

	notifier := session.NotifierFunc(func(a domain.Advisory) {
		l.Info().
			Str(log.FieldEventKind, a.Kind).
			Str(log.FieldRoomID, a.RoomID).
			Str("title", a.Title).
			Str("body", a.Body).
			Msg("advisory")
	})

	sess := session.New(dir, str, tr, store.New(), creds, notifier, cfg.Directory.PageSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to start chat session")
	}
	defer sess.Stop()

	for _, room := range sess.Store().Rooms() {
		l.Info().
			Str(log.FieldRoomID, room.RoomID).
			Str("last_message", room.LastMessage).
			Int("unread", room.UnreadCount).
			Msg("room")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down")
}
