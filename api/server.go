package api

import (
	"crypto"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	kafkaAdapter "marketplace/adapters/kafka"
	redisAdapter "marketplace/adapters/redis"
	"marketplace/adapters/sse"
	stripeAdapter "marketplace/adapters/stripe"
	"marketplace/auction"
	"marketplace/events"
	"marketplace/jobs"
	"marketplace/models"
	"marketplace/orders"
	"marketplace/payments"
	"marketplace/settlement"
)

// components 為處理請求需要的外部依賴，NewServer 以正式的連線建立
type components struct {
	db          *gorm.DB
	clock       clock.Clock
	broadcaster events.Broadcaster
	ledger      events.Ledger
	processor   payments.Processor
	sseManager  sse.ConnectionManager[events.Message]
	marker      jobs.RunMarker
	locker      jobs.Locker
	logger      *slog.Logger
}

type Server struct {
	db          *gorm.DB
	redisClient *redis.Client
	producer    *redisAdapter.Producer[sse.PublishRequest[events.Message]]
	sseManager  sse.ConnectionManager[events.Message]
	ledger      *kafkaAdapter.Ledger
	scheduler   *jobs.Scheduler

	store       *auction.Store
	ladders     auction.Ladders
	coordinator *auction.Coordinator
	lifecycle   *auction.Lifecycle
	orders      *orders.Service
	refunder    *settlement.Refunder
	processor   payments.Processor

	htmlPolicy *bluemonday.Policy
	publicKey  crypto.PublicKey
	logger     *slog.Logger
	config     ServerConfig
}

func NewServer(config ServerConfig) (*Server, error) {
	const op = "NewServer"
	logger := slog.Default()

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if config.DB.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
		}
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 事件透過Redis Stream送到每個節點，再由各節點的SSE管理器轉給自己的連線
	producer, err := redisAdapter.NewProducer(
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithProducerLogger[sse.PublishRequest[events.Message]](logger),
		redisAdapter.WithProducerMaxLen[sse.PublishRequest[events.Message]](config.Redis.StreamMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	consumer, err := redisAdapter.NewConsumer(
		redisClient,
		config.Redis.StreamKeys.Events,
		redisAdapter.WithConsumerLogger[sse.PublishRequest[events.Message]](logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	sseManager, err := sse.NewConnectionManager(
		sse.WithLogger[events.Message](logger),
		sse.WithSubscriber[events.Message](consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create sse connection manager, err=%w", op, err)
	}

	// 初始化金流服務
	processor, err := stripeAdapter.NewProcessor(
		config.Stripe.APIKey,
		config.Stripe.WebhookSecret,
		stripeAdapter.WithProcessorLogger(logger),
		stripeAdapter.WithProcessorCurrency(config.Stripe.Currency),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create payment processor, err=%w", op, err)
	}

	// 帳務事件
	var (
		kafkaLedger *kafkaAdapter.Ledger
		ledger      = events.NopLedger
	)
	if len(config.Kafka.Brokers) > 0 {
		kafkaLedger = kafkaAdapter.NewLedger(
			kafkaAdapter.NewWriter(config.Kafka.Brokers, config.Kafka.LedgerTopic),
			kafkaAdapter.WithLedgerLogger(logger),
		)
		ledger = kafkaLedger
	} else {
		logger.Warn("kafka brokers are not configured, ledger events are discarded")
	}

	server := newServer(config, components{
		db:          db,
		clock:       clock.NewClock(),
		broadcaster: events.NewStreamBroadcaster(producer),
		ledger:      ledger,
		processor:   processor,
		sseManager:  sseManager,
		marker: redisAdapter.NewRunMarker(redisClient,
			redisAdapter.WithRunMarkerPrefix(config.Redis.KeyPrefix+"job-run:"),
			redisAdapter.WithRunMarkerOwner(config.ID)),
		locker: redisAdapter.NewJobLocker(redisClient,
			redisAdapter.WithJobLockerPrefix(config.Redis.KeyPrefix+"job-lock:"),
			redisAdapter.WithJobLockerLogger(logger)),
		logger: logger,
	})
	server.redisClient = redisClient
	server.producer = producer
	server.ledger = kafkaLedger
	return server, nil
}

func newServer(config ServerConfig, c components) *Server {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.broadcaster == nil {
		c.broadcaster = events.Nop
	}
	if c.ledger == nil {
		c.ledger = events.NopLedger
	}
	logger := c.logger

	store := auction.NewStore(c.db)
	ladders := auction.NewLadders(config.Auction.DefaultLadder)
	coordinator := auction.NewCoordinator(store, ladders,
		auction.WithCoordinatorLogger(logger),
		auction.WithCoordinatorClock(c.clock),
		auction.WithCoordinatorBroadcaster(c.broadcaster),
	)
	lifecycleOpts := []auction.LifecycleOption{
		auction.WithLifecycleLogger(logger),
		auction.WithLifecycleClock(c.clock),
		auction.WithLifecycleBroadcaster(c.broadcaster),
	}
	if config.Auction.LockTTL > 0 {
		lifecycleOpts = append(lifecycleOpts, auction.WithLockTTL(config.Auction.LockTTL))
	}
	lifecycle := auction.NewLifecycle(store, lifecycleOpts...)

	allocatorOpts := []settlement.AllocatorOption{
		settlement.WithAllocatorLogger(logger),
		settlement.WithAllocatorClock(c.clock),
		settlement.WithAllocatorLedger(c.ledger),
	}
	if config.Settlement.FeeRule != nil {
		allocatorOpts = append(allocatorOpts, settlement.WithFeeRule(config.Settlement.FeeRule))
	}
	if config.Settlement.HoldingPeriod > 0 {
		allocatorOpts = append(allocatorOpts, settlement.WithHoldingPeriod(config.Settlement.HoldingPeriod))
	}
	allocator := settlement.NewAllocator(c.db, config.Settlement.Commission, allocatorOpts...)
	orderService := orders.NewService(c.db, allocator,
		orders.WithServiceLogger(logger),
		orders.WithServiceClock(c.clock),
	)
	refunder := settlement.NewRefunder(c.db, c.processor,
		settlement.WithRefunderLogger(logger),
		settlement.WithRefunderClock(c.clock),
		settlement.WithRefunderLedger(c.ledger),
	)

	return &Server{
		db:          c.db,
		sseManager:  c.sseManager,
		scheduler:   newScheduler(config.Jobs, c, lifecycle, orderService),
		store:       store,
		ladders:     ladders,
		coordinator: coordinator,
		lifecycle:   lifecycle,
		orders:      orderService,
		refunder:    refunder,
		processor:   c.processor,
		htmlPolicy:  bluemonday.StrictPolicy(),
		publicKey:   config.Auth.PublicKey,
		logger:      logger.With(slog.String("caller", "Server")),
		config:      config,
	}
}

// newScheduler 建立排程：每日撥款、付款對帳、到期拍賣結束以及商品保留釋放
func newScheduler(config JobsConfig, c components, lifecycle *auction.Lifecycle, orderService *orders.Service) *jobs.Scheduler {
	opts := []jobs.SchedulerOption{
		jobs.WithSchedulerLogger(c.logger),
		jobs.WithSchedulerClock(c.clock),
	}
	if c.marker != nil {
		opts = append(opts, jobs.WithRunMarker(c.marker))
	}
	if c.locker != nil {
		opts = append(opts, jobs.WithLocker(c.locker))
	}
	if config.TickInterval > 0 {
		opts = append(opts, jobs.WithTickInterval(config.TickInterval))
	}
	scheduler := jobs.NewScheduler(opts...)

	payoutOpts := []jobs.PayoutOption{
		jobs.WithPayoutLogger(c.logger),
		jobs.WithPayoutClock(c.clock),
		jobs.WithPayoutLedger(c.ledger),
	}
	if config.TransferTimeout > 0 {
		payoutOpts = append(payoutOpts, jobs.WithTransferTimeout(config.TransferTimeout))
	}
	scheduler.Add(jobs.NewPayoutJob(c.db, c.processor, payoutOpts...), config.PayoutWindow)

	reconcileOpts := []jobs.ReconcileOption{
		jobs.WithReconcileLogger(c.logger),
		jobs.WithReconcileClock(c.clock),
	}
	if config.StaleAfter > 0 {
		reconcileOpts = append(reconcileOpts, jobs.WithStaleAfter(config.StaleAfter))
	}
	scheduler.Add(jobs.NewReconcileJob(orderService, c.processor, reconcileOpts...), jobs.Every(config.ReconcileInterval))
	scheduler.Add(jobs.NewExpiryJob(lifecycle, c.logger), jobs.Every(config.ExpiryInterval))
	scheduler.Add(jobs.NewLockSweepJob(c.db, c.clock, c.logger), jobs.Every(config.LockSweepInterval))
	return scheduler
}

// Start 啟動背景元件，排程工作只在設定開啟時執行
func (s *Server) Start() {
	if s.producer != nil {
		s.producer.Start()
	}
	s.sseManager.Start()
	if s.config.Jobs.Enabled {
		s.scheduler.Start()
	}
}

func (s *Server) Close() {
	// 先停止排程，等待執行中的工作結束
	s.scheduler.Stop()
	s.sseManager.Done()
	if s.producer != nil {
		s.producer.Close()
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.Warn("Fail to close ledger writer", slog.Any("error", err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("Fail to close redis client", slog.Any("error", err))
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Handler 回傳註冊好所有路由的 http.Handler
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequest)

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.POST("/webhooks/payments", s.PostPaymentWebhook)
	router.GET("/auctions/:auctionID", s.GetAuction)
	router.GET("/auctions/:auctionID/events", s.GetAuctionEvents)

	authed := router.Group("/", s.requireActor)
	authed.POST("/auctions", s.PostAuction)
	authed.POST("/auctions/:auctionID/bids", s.PostAuctionBid)
	authed.POST("/auctions/:auctionID/close", s.PostAuctionClose)
	authed.POST("/auctions/:auctionID/cancel", s.PostAuctionCancel)
	authed.POST("/auctions/:auctionID/buy-now", s.PostAuctionBuyNow)

	admin := authed.Group("/", s.requireAdmin)
	admin.POST("/orders/:orderID/refund", s.PostOrderRefund)
	return router
}

func (s *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	level := slog.LevelDebug
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	s.logger.Log(c.Request.Context(), level, "request handled",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("latency", time.Since(start)))
}
