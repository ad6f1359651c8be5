/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible
 * for initializing all components of the service, including configuration,
 * the in-memory ledger and its concurrency guard, the network adapter clients,
 * the optional transfer journal, message broker and rate limiter, the core
 * transfer orchestrator, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver for the transfer journal.
 * - internal/api, internal/app, internal/config, internal/ledger, internal/store.
 * - pkg/mpesa, pkg/airtel: Network adapter clients.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paybridge/settlement-service/internal/api"
	"github.com/paybridge/settlement-service/internal/app"
	"github.com/paybridge/settlement-service/internal/config"
	"github.com/paybridge/settlement-service/internal/domain"
	"github.com/paybridge/settlement-service/internal/ledger"
	"github.com/paybridge/settlement-service/internal/store"
	"github.com/paybridge/settlement-service/pkg/airtel"
	"github.com/paybridge/settlement-service/pkg/mpesa"
	rmrabbit "github.com/paybridge/settlement-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s fee_percent=%.2f fee_routing=%s simulation=%t",
		cfg.ServerPort, cfg.SettlementFeePercent, cfg.FeeRouting, cfg.AdapterSimulation)

	// Build the in-memory ledger from the seed accounts, plus the concurrency
	// guard and the consistent snapshot reader over it.
	registry, err := ledger.NewRegistry(ledger.SeedAccounts())
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"ledger seed failed\" err=%v", err)
	}
	guard := ledger.NewGuard()
	snapshots := ledger.NewSnapshotService(registry, guard)

	// Initialize the network adapter clients. With simulation enabled (the
	// default) unreachable sandboxes degrade to simulated responses rather
	// than failing transfers.
	callbackURL := strings.TrimRight(cfg.BaseURL, "/") + "/mpesa/stkpush/callback"
	mpesaClient := mpesa.NewClient(
		cfg.MpesaBaseURL,
		cfg.MpesaConsumerKey,
		cfg.MpesaConsumerSecret,
		cfg.MpesaShortCode,
		cfg.MpesaPassKey,
		callbackURL,
		cfg.MpesaSettlementMSISDN,
		cfg.AdapterSimulation,
	)
	airtelClient := airtel.NewClient(
		cfg.AirtelBaseURL,
		cfg.AirtelClientID,
		cfg.AirtelClientSecret,
		cfg.AirtelPIN,
		cfg.AirtelSettlementMSISDN,
		cfg.AdapterSimulation,
	)
	adapters := map[domain.Network]domain.NetworkAdapter{
		domain.NetworkMPESA:  mpesaClient,
		domain.NetworkAirtel: airtelClient,
	}

	// Initialize the RabbitMQ producer to publish transfer lifecycle events.
	// A missing or unreachable broker degrades to the no-op fallback.
	var rabbitProducer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; transfer events disabled\" env=RABBITMQ_URL")
		rabbitProducer = &rmrabbit.EventProducerFallback{}
	} else {
		producer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if prodErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
			rabbitProducer = &rmrabbit.EventProducerFallback{}
		} else {
			defer producer.Close()
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
			rabbitProducer = producer
		}
	}

	// Initialize the core transfer orchestrator with its dependencies.
	settlementService := app.NewService(
		registry,
		guard,
		adapters,
		app.NewFeePolicy(cfg.SettlementFeePercent),
		cfg.IntermediaryAccountID,
		rabbitProducer,
	)
	settlementService.ConfigureFeeRouting(cfg.FeeRouting, cfg.RevenueAccountID)
	settlementService.ConfigureAdapterPolicy(
		time.Duration(cfg.AdapterTimeoutSeconds)*time.Second,
		cfg.AdapterMaxRetries,
	)

	// Attach the optional write-behind transfer journal. The in-memory ledger
	// stays authoritative; a missing database only disables history.
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; transfer journal disabled\" env=DATABASE_URL")
	} else {
		poolConfig, parseErr := pgxpool.ParseConfig(cfg.DatabaseURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"database url parse failed; transfer journal disabled\" err=%v", parseErr)
		} else {
			poolConfig.MaxConns = 10
			poolConfig.MaxConnLifetime = 30 * time.Minute
			poolConfig.MaxConnIdleTime = 5 * time.Minute
			poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

			dbpool, poolErr := pgxpool.NewWithConfig(context.Background(), poolConfig)
			if poolErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"database connection failed; transfer journal disabled\" err=%v", poolErr)
			} else {
				defer dbpool.Close()
				journal := store.NewPostgresJournal(dbpool)
				schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
				if schemaErr := journal.EnsureSchema(schemaCtx); schemaErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"journal schema setup failed; transfer journal disabled\" err=%v", schemaErr)
				} else {
					settlementService.SetJournal(journal)
					log.Println("level=info component=bootstrap msg=\"transfer journal connected\"")
				}
				cancelSchema()
			}
		}
	}

	// Attach the optional per-source transfer rate limiter.
	if cfg.TransferRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; transfer rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; transfer rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				pingErr := redisClient.Ping(pingCtx).Err()
				cancelPing()
				if pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; transfer rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					settlementService.SetTransferRateLimiter(
						app.NewRedisTransferRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
						cfg.TransferRateLimitPerMinute,
					)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the API handlers.
	settlementHandlers := api.NewSettlementHandlers(settlementService, snapshots, rabbitProducer)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.SettlementRoutes(settlementHandlers))

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
