package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"whisper/config"
	"whisper/httpapi"
	"whisper/presence"
	"whisper/server"
	"whisper/store"
	"whisper/token"
)

func main() {
	cfg := config.Load()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	if cfg.JWTSecret == "" {
		logrus.Fatal("WHISPER_JWT_SECRET must be set")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	issuer := token.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	registry := presence.NewRegistry()

	relay := server.New(db, issuer, registry, &server.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	api := httpapi.New(db, issuer)

	router := mux.NewRouter()
	router.HandleFunc("/ws", relay.HandleWS)
	api.Register(router)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig).Info("Shutting down")
		relay.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("HTTP shutdown did not finish cleanly")
		}
	}()

	logrus.WithField("addr", cfg.Addr).Info("Whisper relay listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Fatal("Server failed")
	}
}
