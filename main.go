package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"custodial-wallet-service/handlers"
	"custodial-wallet-service/middleware"
	"custodial-wallet-service/models"
	"custodial-wallet-service/services"
	"custodial-wallet-service/utils"
	"custodial-wallet-service/workers"

	"github.com/fatih/color"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	color.Cyan("Custodial Wallet Service")

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — JSON-only API
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Wallet{},
		&models.SavedWallet{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	rpcURL := os.Getenv("SOLANA_RPC_URL")
	if rpcURL == "" {
		log.Println("⚠️  SOLANA_RPC_URL not set, using public mainnet endpoint")
		rpcURL = "https://api.mainnet-beta.solana.com"
	}
	ledger := services.NewLedgerClient(rpcURL)

	masterKey := services.LoadMasterKey()

	walletService := services.NewWalletService(db, ledger, masterKey)
	swapService := services.NewSwapService(walletService, ledger, os.Getenv("JUPITER_BASE_URL"), utils.HTTPClient)
	activityService := services.NewActivityService(walletService, ledger)
	priceService := services.NewPriceService(walletService, os.Getenv("COINGECKO_BASE_URL"), os.Getenv("COINGECKO_API_KEY"), utils.HTTPClient)

	// CoinGecko demo tier tolerates roughly one request every 2s
	marketDataService := services.NewMarketDataService(
		os.Getenv("COINGECKO_BASE_URL"),
		os.Getenv("COINGECKO_API_KEY"),
		utils.NewRateLimitedClient(2*time.Second, 3, 2*time.Second),
	)
	// BirdEye standard tier needs 1.5s spacing between calls
	birdEyeService := services.NewBirdEyeService(
		os.Getenv("BIRDEYE_BASE_URL"),
		os.Getenv("BIRDEYE_API_KEY"),
		utils.NewRateLimitedClient(1500*time.Millisecond, 3, 1*time.Second),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers.StartFundingReconciler(ctx, db, walletService, 60*time.Second)

	// ✅ Setup routes — all behind enforced Gateway auth
	handlers.SetupWalletRoutes(app, walletService, swapService, activityService, priceService)
	handlers.SetupMarketRoutes(app, marketDataService, birdEyeService, priceService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)
	if masterKey == nil {
		log.Println("⚠️  MASTER_WALLET_PRIVATE_KEY not set — auto-funding disabled")
	} else {
		log.Println("✅ Funding reconciler running (every 60s)")
	}

	<-ctx.Done()
	log.Println("Shutting down server...")
}
