package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/common/database"
	"github.com/anantaryaaa/health-record-dapps-sub001/common/logger"
	"github.com/anantaryaaa/health-record-dapps-sub001/common/mqtt"
	commonredis "github.com/anantaryaaa/health-record-dapps-sub001/common/redis"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/chain"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/config"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/httpapi"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/metatx"
	"github.com/anantaryaaa/health-record-dapps-sub001/internal/relayer"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const serviceName = "medvault-relayer"

func main() {
	// 1. 加载配置
	cfg := config.Load()

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 链连接 + relayer 钱包
	if cfg.Relayer.PrivateKey == "" {
		log.Fatal("RELAYER_PRIVATE_KEY is required")
	}
	forwarder, err := chain.ParseAddress(cfg.Chain.ForwarderAddress)
	if err != nil {
		log.Fatal("invalid FORWARDER_ADDRESS", zap.Error(err))
	}
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal("failed to connect to chain", zap.String("rpc_url", cfg.Chain.RPCURL), zap.Error(err))
	}
	defer client.Close()
	key, err := chain.ParsePrivateKey(cfg.Relayer.PrivateKey)
	if err != nil {
		log.Fatal("invalid RELAYER_PRIVATE_KEY", zap.Error(err))
	}
	transactor := chain.NewTransactor(client, key, cfg.Chain.ChainID)
	executor := relayer.NewForwarderExecutor(client, transactor, forwarder, log)
	log.Info("relayer wallet loaded", zap.String("address", transactor.From().Hex()))

	// 4. nonce 存储：多实例部署必须用 redis
	var redisClient *redis.Client
	var nonces relayer.NonceStore
	switch cfg.Relayer.NonceStore {
	case "memory":
		nonces = relayer.NewMemoryNonceStore()
		log.Warn("using in-memory nonce store, do not run more than one relayer instance")
	default:
		redisClient, err = commonredis.Connect(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		nonces = relayer.NewRedisNonceStore(redisClient, cfg.Relayer.NoncePrefix, cfg.Relayer.MarkerTTL)
	}

	// 5. relay log：DB 不可用时回退到内存
	var db *sql.DB
	var relayLog relayer.RelayLog = relayer.NewMemoryRelayLog()
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			pg := relayer.NewPostgresRelayLog(d)
			if err := pg.EnsureSchema(ctx); err != nil {
				log.Warn("relay log schema setup failed, falling back to memory", zap.Error(err))
				_ = d.Close()
			} else {
				db = d
				relayLog = pg
				log.Info("DB enabled for relay log")
			}
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory", zap.Error(err))
		}
	}

	// 6. 事件：redis stream + 可选 MQTT
	var publishers []relayer.Publisher
	if redisClient != nil && cfg.Relayer.EventStream != "" {
		publishers = append(publishers, relayer.NewStreamPublisher(redisClient, cfg.Relayer.EventStream, cfg.Relayer.EventMaxLen))
	}
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		if c, err := mqtt.NewClient(&cfg.MQTT.MQTTConfig); err == nil {
			mqttClient = c
			publishers = append(publishers, relayer.NewMQTTPublisher(c, cfg.MQTT.TopicPrefix))
		} else {
			log.Warn("MQTT enabled but connection failed, notifications disabled", zap.Error(err))
		}
	}

	svc := relayer.NewService(relayer.Options{
		Domain: metatx.Domain{
			Name:              cfg.Chain.ForwarderName,
			ChainID:           cfg.Chain.ChainID,
			VerifyingContract: forwarder.Hex(),
		},
		MaxGas:         cfg.Relayer.MaxGas,
		AllowedTargets: cfg.Chain.AllowedTargets(),
		SequenceWait:   cfg.Relayer.SequenceWait,
	}, nonces, executor, relayLog, publishers, log)

	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes(serviceName)
	router.RegisterRelayRoutes(httpapi.NewRelayHandler(svc, log))

	srv := httpapi.NewServer(serviceName, cfg.Relayer.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// 7. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server stopped", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("relayer stopped")
}
