package api

import (
	"crypto/ed25519"
	"log/slog"
	"time"

	"marketplace/auction"
	"marketplace/jobs"
	"marketplace/settlement"
)

type ServerConfig struct {
	// ID 用來辨識節點，寫入排程工作的執行紀錄
	ID         string
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Stripe     StripeConfig
	Kafka      KafkaConfig
	Auction    AuctionConfig
	Settlement SettlementConfig
	Jobs       JobsConfig
	Log        LogConfig
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
	// AutoMigrate 啟動時以 gorm 建立或更新資料表
	AutoMigrate bool
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
	// StreamMaxLen 廣播 stream 保留的大約長度
	StreamMaxLen int64
}

type RedisStreamKeys struct {
	Events string
}

type AuthConfig struct {
	// PublicKey 驗證存取權杖(EdDSA)的公鑰
	PublicKey ed25519.PublicKey
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
}

type KafkaConfig struct {
	// Brokers 為空時不輸出帳務事件
	Brokers     []string
	LedgerTopic string
}

type AuctionConfig struct {
	DefaultLadder auction.Ladder
	LockTTL       time.Duration
}

type SettlementConfig struct {
	Commission    settlement.Commission
	FeeRule       settlement.FeeRule
	HoldingPeriod time.Duration
}

type JobsConfig struct {
	Enabled           bool
	TickInterval      time.Duration
	PayoutWindow      jobs.DailyWindow
	TransferTimeout   time.Duration
	ReconcileInterval time.Duration
	StaleAfter        time.Duration
	ExpiryInterval    time.Duration
	LockSweepInterval time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string
}
