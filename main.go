package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/angelstreet/virtualpytest-sub004/api"
	"github.com/angelstreet/virtualpytest-sub004/config"
	"github.com/angelstreet/virtualpytest-sub004/logging"
	"github.com/angelstreet/virtualpytest-sub004/service"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	env := config.OSEnv()
	hc := config.LoadHostConfig(env)

	logCfg := logging.DefaultConfig()
	logCfg.Level = hc.LogLevel
	logCfg.Dir = hc.LogDir
	if path, err := logging.Init(logCfg); err != nil {
		logging.Warn("main").Err(err).Msg("Failed to setup file logging")
	} else if path != "" {
		logging.Info("main").Str("path", path).Msg("Logging to file")
	}
	defer logging.Close()

	logging.Info("main").Str("host", hc.Name).Str("port", hc.Port).Msg("Starting VirtualPyTest host")

	records, err := store.Open(hc.DBPath)
	if err != nil {
		logging.Error("main").Err(err).Str("path", hc.DBPath).Msg("Failed to open record store")
		os.Exit(1)
	}
	defer records.Close()

	manager := service.NewControllerManager(service.NewControllerRegistry(), service.NewDeps(hc, records), hc.CaptureRoot)
	service.SetHostFactory(func(ctx context.Context, deviceIDs []string) (*service.Host, error) {
		return service.CreateHostFromEnvironment(ctx, env, manager, deviceIDs), nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := service.GetHost(ctx, nil)
	if err != nil {
		logging.Error("main").Err(err).Msg("Failed to create host")
		os.Exit(1)
	}

	wsHub := api.NewWebSocketHub()
	go wsHub.Run()

	feed := service.NewCaptureFeed(host.Device, wsHub)

	if logging.ParseLevel(hc.LogLevel) != zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, host, records, wsHub, feed)

	srv := &http.Server{
		Addr:    ":" + hc.Port,
		Handler: router,
	}

	go func() {
		logging.Info("main").Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("main").Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("main").Msg("Shutting down")
	wsHub.BroadcastToAll(gin.H{"type": "host_shutdown", "host": host.Name})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("main").Err(err).Msg("Server shutdown incomplete")
	}
	feed.StopAll()
	service.ResetHost(shutdownCtx)
}
