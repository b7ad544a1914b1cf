/**
 * @description
 * This is the main entry point for the ledger service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application services,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/blockchainclient, pkg/exchangeclient, pkg/keysclient: Gateway clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wavepay/ledger-service/internal/api"
	"github.com/wavepay/ledger-service/internal/app"
	"github.com/wavepay/ledger-service/internal/config"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/observability"
	"github.com/wavepay/ledger-service/internal/store"
	"github.com/wavepay/ledger-service/pkg/blockchainclient"
	"github.com/wavepay/ledger-service/pkg/exchangeclient"
	"github.com/wavepay/ledger-service/pkg/keysclient"
	rmrabbit "github.com/wavepay/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish settlement jobs. A broker
	// outage degrades to the fallback producer rather than blocking boot;
	// committed withdrawals are re-enqueued by the operator in that case.
	var rabbitProducer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		rabbitProducer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Gateway clients.
	exchangeClient := exchangeclient.NewClient(cfg.ExchangeGatewayURL, cfg.ExchangeGatewayKey)
	blockchainClient := blockchainclient.NewClient(cfg.BlockchainGatewayURL, cfg.BlockchainGatewayKey)
	keysClient := keysclient.NewClient(cfg.KeysServiceURL, cfg.KeysServiceKey)

	// Redis backs the submission throttle. Missing redis disables throttling
	// but never blocks boot.
	var redisClient *redis.Client
	if cfg.SubmissionRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; submission throttling disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission throttling disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission throttling disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	systemAccounts, err := systemAccountsFromConfig(cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"system account config invalid\" err=%v", err)
	}

	limits, err := app.NewLimitPolicyFromStrings(cfg.LimitPeriodSecs, cfg.DailyLimitBTC, cfg.DailyLimitETH, cfg.DailyLimitSTQ)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"limit config invalid\" err=%v", err)
	}

	feeOptions, err := feeOptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"fee config invalid\" err=%v", err)
	}
	fees := app.NewFeeCalculator(exchangeClient, feeOptions)

	metrics := observability.NewMetrics()

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	var limiter *app.RedisRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the core application services with their dependencies.
	rateService := app.NewRateService(repository, exchangeClient, time.Duration(cfg.QuoteTTLSecs)*time.Second, cfg.RateTolerancePercent)
	ledgerService := app.NewService(
		repository,
		rabbitProducer,
		exchangeClient,
		keysClient,
		fees,
		limits,
		systemAccounts,
		limiter,
		metrics,
		cfg.SubmissionRateLimitPerMinute,
	)

	// Initialize the API handlers and router.
	handlers := api.NewLedgerHandlers(ledgerService, rateService)
	router := api.LedgerRoutes(handlers, cfg.JWKSURL, metrics.Handler())

	// Wire up the settlement dispatcher: consume submit and retry jobs from
	// the events exchange with a bounded prefetch.
	settlementConsumer := app.NewSettlementConsumer(repository, blockchainClient, fees, metrics, cfg.SettlementMaxAttempts)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	settlementBindings := map[string]func([]byte) bool{
		app.RoutingKeySettlementSubmit: settlementConsumer.HandleMessage,
		app.RoutingKeySettlementRetry:  settlementConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(app.EventsExchange, cfg.SettlementQueue, cfg.SettlementPrefetch, settlementBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// systemAccountsFromConfig parses the nine system account ids. All nine are
// required; the ledger cannot move funds without them.
func systemAccountsFromConfig(cfg config.Config) (domain.SystemAccounts, error) {
	accounts := domain.SystemAccounts{
		Liquidity: map[domain.Currency]uuid.UUID{},
		Fees:      map[domain.Currency]uuid.UUID{},
		Transfer:  map[domain.Currency]uuid.UUID{},
	}
	entries := []struct {
		target   map[domain.Currency]uuid.UUID
		currency domain.Currency
		env      string
		raw      string
	}{
		{accounts.Liquidity, domain.CurrencyBTC, "LIQUIDITY_ACCOUNT_BTC", cfg.LiquidityAccountBTC},
		{accounts.Liquidity, domain.CurrencyETH, "LIQUIDITY_ACCOUNT_ETH", cfg.LiquidityAccountETH},
		{accounts.Liquidity, domain.CurrencySTQ, "LIQUIDITY_ACCOUNT_STQ", cfg.LiquidityAccountSTQ},
		{accounts.Fees, domain.CurrencyBTC, "FEES_ACCOUNT_BTC", cfg.FeesAccountBTC},
		{accounts.Fees, domain.CurrencyETH, "FEES_ACCOUNT_ETH", cfg.FeesAccountETH},
		{accounts.Fees, domain.CurrencySTQ, "FEES_ACCOUNT_STQ", cfg.FeesAccountSTQ},
		{accounts.Transfer, domain.CurrencyBTC, "TRANSFER_ACCOUNT_BTC", cfg.TransferAccountBTC},
		{accounts.Transfer, domain.CurrencyETH, "TRANSFER_ACCOUNT_ETH", cfg.TransferAccountETH},
		{accounts.Transfer, domain.CurrencySTQ, "TRANSFER_ACCOUNT_STQ", cfg.TransferAccountSTQ},
	}
	for _, e := range entries {
		id, err := uuid.Parse(strings.TrimSpace(e.raw))
		if err != nil {
			return domain.SystemAccounts{}, fmt.Errorf("%s: %w", e.env, err)
		}
		e.target[e.currency] = id
	}
	return accounts, nil
}

func feeOptionsFromConfig(cfg config.Config) (app.FeeOptions, error) {
	btcPrice, err := decimal.NewFromString(cfg.FeePriceBTC)
	if err != nil {
		return app.FeeOptions{}, fmt.Errorf("FEE_PRICE_BTC: %w", err)
	}
	ethPrice, err := decimal.NewFromString(cfg.FeePriceETH)
	if err != nil {
		return app.FeeOptions{}, fmt.Errorf("FEE_PRICE_ETH: %w", err)
	}
	internalFee, err := domain.ParseAmount(cfg.InternalTransferFee)
	if err != nil {
		return app.FeeOptions{}, fmt.Errorf("INTERNAL_TRANSFER_FEE: %w", err)
	}
	return app.FeeOptions{
		BTCTransactionSize: cfg.BTCTransactionSize,
		ETHGasLimit:        cfg.ETHGasLimit,
		STQGasLimit:        cfg.STQGasLimit,
		FeeUpside:          cfg.FeeUpside,
		StaticFeePrices: map[domain.Currency]decimal.Decimal{
			domain.CurrencyBTC: btcPrice,
			domain.CurrencyETH: ethPrice,
		},
		InternalTransferFee: internalFee,
	}, nil
}
