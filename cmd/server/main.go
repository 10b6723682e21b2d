package main

import (
	"context"

	"github.com/UjanGuin/ZYLO-LINK/internal/assistant"
	"github.com/UjanGuin/ZYLO-LINK/internal/blob"
	"github.com/UjanGuin/ZYLO-LINK/internal/config"
	"github.com/UjanGuin/ZYLO-LINK/internal/db"
	clog "github.com/UjanGuin/ZYLO-LINK/internal/log"
	"github.com/UjanGuin/ZYLO-LINK/internal/server"
	"github.com/UjanGuin/ZYLO-LINK/internal/service"
	"github.com/UjanGuin/ZYLO-LINK/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责装配：配置、日志、数据库、对象存储、Hub、助手桥与 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	blobs, err := blob.New(blob.Config{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("blob connect")
	}
	if err := blobs.EnsureBucket(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("blob bucket")
	}

	store := service.NewStore(gdb)
	hub := ws.NewHub()
	router := ws.NewRouter(hub, store, cfg)

	invoker := assistant.NewHTTPInvoker(cfg.AssistantURL, cfg.AssistantModel, cfg.AssistantKey)
	bridge := assistant.NewBridge(invoker, router.PublishAssistantReply, cfg.AssistantWorkers, 64)
	defer bridge.Close()
	router.AttachBridge(bridge)

	h := server.NewHandler(cfg, gdb, store.Users, blobs)
	r := server.SetupRouter(cfg, gdb, h, router)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
