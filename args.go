package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"marketplace/api"
	"marketplace/auction"
	"marketplace/jobs"
	"marketplace/money"
	"marketplace/settlement"
)

func ParseArgs() (Args, error) {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "", "node id, defaults to the hostname")
	pflag.Duration("shutdown-timeout", 15*time.Second, "")

	// log config
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.String("log-format", "json", "json or text")

	// auth config
	pflag.String("auth-public-key-file", "", "PEM encoded ed25519 public key for access tokens")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")
	pflag.Bool("db-auto-migrate", false, "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "marketplace:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "marketplace-shared-event-stream", "")
	pflag.Int64("redis-stream-max-len", 10000, "")

	// stripe config
	pflag.String("stripe-api-key", "", "")
	pflag.String("stripe-webhook-secret", "", "")
	pflag.String("stripe-currency", "usd", "")

	// kafka config
	pflag.StringSlice("kafka-brokers", nil, "ledger events are discarded when empty")
	pflag.String("kafka-ledger-topic", "marketplace-ledger", "")

	// auction config
	pflag.String("auction-default-ladder", auction.DefaultLadder.String(), "upTo:increment pairs in cents, an empty upTo is unbounded")
	pflag.Duration("auction-lock-ttl", 48*time.Hour, "how long the winner's hold on the product lasts")

	// settlement config
	pflag.String("settlement-commission-pct", "0.1", "")
	pflag.Int64("settlement-commission-min-cents", 0, "")
	pflag.String("settlement-fee-rule", settlement.FeeRulePerOrder, "")
	pflag.Duration("settlement-holding-period", 7*24*time.Hour, "")

	// jobs config
	pflag.Bool("jobs-enabled", true, "")
	pflag.Duration("jobs-tick-interval", 30*time.Second, "")
	pflag.Int("jobs-payout-hour", 3, "")
	pflag.Int("jobs-payout-start-minute", 0, "")
	pflag.Int("jobs-payout-end-minute", 15, "")
	pflag.String("jobs-payout-timezone", "UTC", "")
	pflag.Duration("jobs-transfer-timeout", 20*time.Second, "")
	pflag.Duration("jobs-reconcile-interval", 10*time.Minute, "")
	pflag.Duration("jobs-stale-after", 30*time.Minute, "")
	pflag.Duration("jobs-expiry-interval", time.Minute, "")
	pflag.Duration("jobs-lock-sweep-interval", 5*time.Minute, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("MARKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// 需要解析的設定
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return Args{}, fmt.Errorf("invalid log-level: %w", err)
	}
	ladder, err := auction.ParseLadder(viper.GetString("auction-default-ladder"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid auction-default-ladder: %w", err)
	}
	pct, err := decimal.NewFromString(viper.GetString("settlement-commission-pct"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid settlement-commission-pct: %w", err)
	}
	feeRule, err := settlement.ParseFeeRule(viper.GetString("settlement-fee-rule"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid settlement-fee-rule: %w", err)
	}
	location, err := time.LoadLocation(viper.GetString("jobs-payout-timezone"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid jobs-payout-timezone: %w", err)
	}
	var publicKey ed25519.PublicKey
	if path := viper.GetString("auth-public-key-file"); path != "" {
		if publicKey, err = readPublicKey(path); err != nil {
			return Args{}, err
		}
	}
	serverID := viper.GetString("server-id")
	if serverID == "" {
		serverID, _ = os.Hostname()
	}

	// initial arguments
	return Args{
		ServerURL:       viper.GetString("server-url"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		ServerConfig: api.ServerConfig{
			ID: serverID,
			DB: api.DBConfig{
				User:        viper.GetString("db-user"),
				Password:    viper.GetString("db-password"),
				Host:        viper.GetString("db-host"),
				Port:        viper.GetInt("db-port"),
				Database:    viper.GetString("db-database"),
				Schema:      viper.GetString("db-schema"),
				AutoMigrate: viper.GetBool("db-auto-migrate"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
				StreamMaxLen: viper.GetInt64("redis-stream-max-len"),
			},
			Auth: api.AuthConfig{PublicKey: publicKey},
			Stripe: api.StripeConfig{
				APIKey:        viper.GetString("stripe-api-key"),
				WebhookSecret: viper.GetString("stripe-webhook-secret"),
				Currency:      viper.GetString("stripe-currency"),
			},
			Kafka: api.KafkaConfig{
				Brokers:     viper.GetStringSlice("kafka-brokers"),
				LedgerTopic: viper.GetString("kafka-ledger-topic"),
			},
			Auction: api.AuctionConfig{
				DefaultLadder: ladder,
				LockTTL:       viper.GetDuration("auction-lock-ttl"),
			},
			Settlement: api.SettlementConfig{
				Commission: settlement.Commission{
					Pct:    pct,
					MinFee: money.Cents(viper.GetInt64("settlement-commission-min-cents")),
				},
				FeeRule:       feeRule,
				HoldingPeriod: viper.GetDuration("settlement-holding-period"),
			},
			Jobs: api.JobsConfig{
				Enabled:      viper.GetBool("jobs-enabled"),
				TickInterval: viper.GetDuration("jobs-tick-interval"),
				PayoutWindow: jobs.DailyWindow{
					Hour:        viper.GetInt("jobs-payout-hour"),
					StartMinute: viper.GetInt("jobs-payout-start-minute"),
					EndMinute:   viper.GetInt("jobs-payout-end-minute"),
					Location:    location,
				},
				TransferTimeout:   viper.GetDuration("jobs-transfer-timeout"),
				ReconcileInterval: viper.GetDuration("jobs-reconcile-interval"),
				StaleAfter:        viper.GetDuration("jobs-stale-after"),
				ExpiryInterval:    viper.GetDuration("jobs-expiry-interval"),
				LockSweepInterval: viper.GetDuration("jobs-lock-sweep-interval"),
			},
			Log: api.LogConfig{
				Level:  level,
				Format: viper.GetString("log-format"),
			},
		},
	}, nil
}

func readPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	publicKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ed25519 key")
	}
	return publicKey, nil
}

type Args struct {
	ServerURL       string
	ShutdownTimeout time.Duration
	ServerConfig    api.ServerConfig
}

func (args Args) Validate() error {
	config := args.ServerConfig
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}
	if config.Auth.PublicKey == nil {
		errs = append(errs, errors.New("auth-public-key-file is required"))
	}
	if config.DB.Host == "" || config.DB.Database == "" {
		errs = append(errs, errors.New("db-host and db-database are required"))
	}
	if config.Redis.Addr == "" {
		errs = append(errs, errors.New("redis-addr is required"))
	}
	if config.Stripe.APIKey == "" || config.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe-api-key and stripe-webhook-secret are required"))
	}
	if err := config.Settlement.Commission.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := config.Jobs.PayoutWindow.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
