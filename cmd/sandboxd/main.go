package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finpay-client/internal/config"
	"finpay-client/internal/sandbox"
	"finpay-client/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	redisClient, err := sandbox.NewRedis(cfg.Sandbox.RedisURL)
	if err != nil {
		util.Fatal("Failed to connect to redis", util.ErrorField(err))
	}
	defer redisClient.Close()

	users := sandbox.NewUserDirectory()
	demo := users.SeedDemoUser()
	util.Info("Seeded demo account",
		util.String("email", demo.Email),
		util.String("phone", demo.Phone),
	)

	buckets := sandbox.NewBuckets(1024)
	otps := sandbox.NewOTPStore(redisClient, buckets, cfg.Sandbox.OTPTTL)
	tokens := sandbox.NewTokenIssuer(cfg.Sandbox.JWTSecret, cfg.Sandbox.TokenTTL)
	handler := sandbox.NewHandler(users, otps, tokens, cfg.Sandbox, util.Get())
	router := sandbox.NewRouter(handler, util.Get())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Sandbox.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Sandbox tenant backend started",
		util.String("environment", cfg.Environment),
		util.String("address", server.Addr),
	)

	waitForShutdown(server)
}

func waitForShutdown(server *http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}
}
