// Package main Hub Server 入口
//
// 联邦市场控制面：Agent 注册、任务撮合与结算、知识审计、
// 易货交易、排行榜与后台巡检。
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nervix-hub/internal/config"
	"nervix-hub/internal/hub/agents"
	"nervix-hub/internal/hub/audit"
	"nervix-hub/internal/hub/barter"
	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/enrollment"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/knowledge"
	"nervix-hub/internal/hub/leaderboard"
	"nervix-hub/internal/hub/matching"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/hub/server"
	"nervix-hub/internal/hub/sweeper"
	"nervix-hub/internal/hub/tasks"
	"nervix-hub/internal/shared/blob"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/infra"
	"nervix-hub/internal/shared/queue"
	"nervix-hub/internal/shared/storage"
	etcdstore "nervix-hub/internal/shared/storage/etcd"
	"nervix-hub/internal/shared/storage/mongostore"
	"nervix-hub/internal/shared/storage/repository"
	"nervix-hub/pkg/auth"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录（覆盖默认搜索路径）")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	cfg := config.Load()
	log.Printf("Starting Hub Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// 持久化存储（sqlite / postgres / mongodb）
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	log.Printf("Connected to %s store", cfg.DatabaseDriver)

	// Redis（缓存 / 事件总线 / 撮合队列），未启用时全部退化为 NoOp
	noop := infra.NewNoOpInfrastructure()
	var presence = noop.Cache
	var bus = noop.EventBus
	var q queue.Queue = noop.Queue
	var redisInfra *infra.RedisInfra
	if cfg.RedisEnabled {
		redisInfra, err = infra.NewRedisInfra(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisInfra.Close()
		presence = redisInfra.Cache()
		bus = redisInfra.EventBus()
		q = redisInfra.Queue()
		log.Println("Connected to Redis")
	}

	// etcd 租约存活（可选）
	var liveness storage.EtcdAgentLiveness
	if cfg.Etcd.Enabled {
		etcd, err := etcdstore.NewStore(etcdstore.Config{
			Endpoints: cfg.Etcd.Endpoints,
			Prefix:    cfg.Etcd.Prefix,
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcd.Close()
		liveness = etcd
		log.Println("Connected to etcd")
	}

	// MinIO 知识包归档（可选）
	var archives knowledge.ArchiveStore
	if cfg.MinIO.Enabled {
		blobStore, err := blob.NewStore(blob.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			log.Fatalf("Failed to connect to MinIO: %v", err)
		}
		bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := blobStore.EnsureBucket(bootCtx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure archive bucket: %v", err)
		}
		cancel()
		archives = blobStore
		log.Println("Connected to MinIO")
	}

	schedule, err := scheduleFromConfig(cfg.Fees)
	if err != nil {
		log.Fatalf("Invalid fee schedule: %v", err)
	}
	barterCfg, err := barterFromConfig(cfg.Barter)
	if err != nil {
		log.Fatalf("Invalid barter config: %v", err)
	}

	// 引擎装配
	m := metrics.New("nervix_hub")
	recorder := events.NewRecorder(store, bus)
	eco := economy.NewEngine(store, recorder, schedule)
	rep := reputation.NewEngine(store, recorder, reputation.Config{
		DefaultQualityScore: cfg.Reputation.DefaultQualityScore,
		DefaultUptimeScore:  cfg.Reputation.DefaultUptimeScore,
		SuspendThreshold:    cfg.Reputation.SuspendThreshold,
		FailurePenalty:      cfg.Reputation.FailurePenalty,
	})
	matchEngine := matching.NewEngine(store, q, nil, recorder, m, matching.Config{
		OnlineWindow:   cfg.Matching.OnlineWindow,
		CandidateLimit: cfg.Matching.CandidateLimit,
	})
	taskService := tasks.NewService(store, eco, rep, q, recorder, m)
	knowledgeService := knowledge.NewService(store, archives)
	auditGate := audit.NewGate(store, rep, nil, recorder, m)
	barterEngine := barter.NewEngine(store, eco, recorder, m, barterCfg)
	board := leaderboard.NewService(store, presence)
	agentService := agents.NewService(store, rep, presence, liveness, recorder, m)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, "nervix-hub",
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	verifier := enrollment.NewHMACVerifier(federationSecret(cfg))
	enrollService := enrollment.NewService(store, rep, eco, tokens, verifier, recorder)

	handler := server.NewHandler(server.Services{
		Agents:      agentService,
		Tasks:       taskService,
		Knowledge:   knowledgeService,
		Audits:      auditGate,
		Barters:     barterEngine,
		Economy:     eco,
		Enrollment:  enrollService,
		Leaderboard: board,
		Tokens:      tokens,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 平台金库账户
	if err := eco.EnsureTreasury(ctx); err != nil {
		log.Fatalf("Failed to ensure treasury account: %v", err)
	}

	// 撮合消费者（仅在 Redis 队列可用时启动；无 Redis 时由巡检兜底撮合）
	var worker *matching.Worker
	if cfg.RedisEnabled {
		hostname, _ := os.Hostname()
		worker = matching.NewWorker(matchEngine, q, hostname)
		go worker.Start(ctx)
	}

	// 后台巡检
	sw := sweeper.New(store, barterEngine, taskService, agentService,
		knowledgeService, matchEngine, m, sweeper.Config{
			Interval:       cfg.Sweeper.Interval,
			BatchLimit:     cfg.Sweeper.BatchLimit,
			HeartbeatStale: cfg.Sweeper.HeartbeatStale,
		})
	go sw.Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		sw.Stop()
		if worker != nil {
			worker.Stop()
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Hub Server listening on :%s", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// openStore 按配置的驱动打开持久化存储并完成自动建表
func openStore(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return repository.NewPostgres(cfg.DatabaseURL)
	case "mongodb":
		return mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
	default:
		return repository.NewSQLite(cfg.DatabaseURL)
	}
}

// scheduleFromConfig 解析费率配置
func scheduleFromConfig(f config.FeesConfig) (credit.Schedule, error) {
	var s credit.Schedule
	var err error
	if s.TaskSettlementPercent, err = credit.Parse(f.TaskSettlementPercent); err != nil {
		return s, err
	}
	if s.BarterPercent, err = credit.Parse(f.BarterPercent); err != nil {
		return s, err
	}
	if s.TransferPercent, err = credit.Parse(f.TransferPercent); err != nil {
		return s, err
	}
	if s.MinFee, err = credit.Parse(f.MinFee); err != nil {
		return s, err
	}
	if s.MaxFee, err = credit.Parse(f.MaxFee); err != nil {
		return s, err
	}
	if s.DiscountPercent, err = credit.Parse(f.DiscountPercent); err != nil {
		return s, err
	}
	return s, nil
}

// barterFromConfig 解析易货引擎配置
func barterFromConfig(b config.BarterConfig) (barter.Config, error) {
	var cfg barter.Config
	var err error
	if cfg.TONRate, err = credit.Parse(b.TonRate); err != nil {
		return cfg, err
	}
	if cfg.MinFeeTON, err = credit.Parse(b.MinFeeTON); err != nil {
		return cfg, err
	}
	if cfg.FeePercent, err = credit.Parse(b.FeePercent); err != nil {
		return cfg, err
	}
	if cfg.FairnessTolerance, err = credit.Parse(b.FairnessTolerance); err != nil {
		return cfg, err
	}
	cfg.Deadline = time.Duration(b.DeadlineHours) * time.Hour
	return cfg, nil
}

// federationSecret 注册挑战的 HMAC 共享密钥
// 未单独配置时退化为 JWT 密钥（单机开发形态）
func federationSecret(cfg *config.Config) string {
	if s := os.Getenv("FEDERATION_SECRET"); s != "" {
		return s
	}
	return cfg.Auth.JWTSecret
}
