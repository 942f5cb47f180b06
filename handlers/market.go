package handlers

import (
	"custodial-wallet-service/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMarketRoutes(
	app *fiber.App,
	marketDataService *services.MarketDataService,
	birdEyeService *services.BirdEyeService,
	priceService *services.PriceService,
) {
	// 🔓 Market data is not user-scoped
	market := app.Group("/market-data")
	market.Get("/prices", marketDataService.GetPricesEndpoint)
	market.Get("/trending/tokens", marketDataService.GetTrendingTokensEndpoint)
	market.Get("/trending/gainers", marketDataService.GetTopGainersEndpoint)
	market.Get("/overview", marketDataService.GetMarketOverviewEndpoint)

	birdeye := app.Group("/birdeye")
	birdeye.Get("/trending", birdEyeService.GetTrendingTokensEndpoint)
	birdeye.Get("/new-listings", birdEyeService.GetNewListingsEndpoint)
	birdeye.Get("/history/:address", birdEyeService.GetHistoricalDataEndpoint)
	birdeye.Post("/multi-price", birdEyeService.GetMultiplePricesEndpoint)
	birdeye.Get("/market-data/:address", birdEyeService.GetTokenMarketDataEndpoint)

	pricing := app.Group("/pricing")
	pricing.Get("/:symbol", priceService.GetTokenPriceEndpoint)
}
