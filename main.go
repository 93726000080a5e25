package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"RelayCore/data/store"
	"RelayCore/global"
	"RelayCore/logger"
	"RelayCore/service/auth"
	"RelayCore/service/chat"
	"RelayCore/service/natsx"
	"RelayCore/service/storage"
	redisx "RelayCore/service/storage/redis"
	"RelayCore/tools/ids"
)

func main() {
	conf := global.Load()
	ids.SetNodeID(conf.NodeID)

	if err := redisx.Init(redisx.Config{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	}); err != nil {
		logger.Errorf("[main] redis init: %v", err)
		os.Exit(1)
	}
	defer redisx.Close()

	nc, err := natsx.NewClient(natsx.Config{
		Servers: conf.NatsServers,
		Name:    conf.GatewayID,
	})
	if err != nil {
		logger.Errorf("[main] nats connect: %v", err)
		os.Exit(1)
	}
	defer nc.Close()
	if err := nc.EnsureStream(conf.NotifyStream, conf.NotifySubject); err != nil {
		logger.Errorf("[main] ensure stream %s: %v", conf.NotifyStream, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := store.NewPGStore(ctx, conf.PostgresDSN)
	if err != nil {
		logger.Errorf("[main] postgres connect: %v", err)
		os.Exit(1)
	}
	defer pg.Close()

	verifier := auth.NewVerifier(auth.VerifierConfig{
		IssuerURL: conf.IssuerURL,
		Audience:  conf.Audience,
	})
	defer verifier.Close()

	srv := chat.NewServer(
		chat.Config{
			GatewayID:       conf.GatewayID,
			SendQueueSize:   conf.SendQueueSize,
			HeartbeatWindow: conf.HeartbeatWindow,
		},
		chat.Deps{
			Presence: storage.NewPresenceStore(storage.PresenceConfig{TTL: conf.PresenceTTL}),
			Store:    pg,
			Verifier: verifier,
			Resolver: auth.NewResolver(pg),
			Bus:      storage.NewRedisBus(),
			Queue:    natsx.NewProducer(nc, conf.NotifySubject),
		},
		conf.FanoutWorkers,
		conf.FanoutQueue,
	)
	if err := srv.Run(ctx); err != nil {
		logger.Errorf("[main] relay start: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	srv.RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("[main] gateway %s listening on %s", conf.GatewayID, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[main] serve: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Infof("[main] signal %s, shutting down", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[main] shutdown: %v", err)
	}
	logger.Info("[main] bye")
}
