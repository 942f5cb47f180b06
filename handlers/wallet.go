package handlers

import (
	"custodial-wallet-service/middleware"
	"custodial-wallet-service/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWalletRoutes(
	app *fiber.App,
	walletService *services.WalletService,
	swapService *services.SwapService,
	activityService *services.ActivityService,
	priceService *services.PriceService,
) {
	// 🔐 All wallet routes are user-scoped
	wallet := app.Group("/wallet", middleware.UserContextMiddleware())

	// Provisioning — called by the Gateway on first successful authentication
	wallet.Post("/provision", walletService.ProvisionWallet)

	// Wallet info and balances
	wallet.Get("/me", walletService.GetMyWallet)
	wallet.Get("/balance", walletService.GetWalletBalance)
	wallet.Post("/balances", walletService.GetTokenBalances)
	wallet.Get("/balance/:token", walletService.GetSingleTokenBalance)

	// Transfers
	wallet.Post("/send", walletService.SendTokensEndpoint)

	// Swaps
	wallet.Post("/swap/quote", swapService.GetSwapQuoteEndpoint)
	wallet.Post("/swap/execute", swapService.ExecuteSwapEndpoint)

	// Saved external wallets
	wallet.Get("/saved-wallets", walletService.GetSavedWalletsEndpoint)
	wallet.Post("/saved-wallets", walletService.AddSavedWalletEndpoint)
	wallet.Delete("/saved-wallets/:id", walletService.DeleteSavedWalletEndpoint)

	// Activity feed
	wallet.Get("/activity", activityService.GetWalletActivityEndpoint)
	wallet.Get("/transactions", activityService.GetRecentTransactionsEndpoint)

	// Portfolio valuation
	wallet.Get("/portfolio", priceService.GetPortfolioEndpoint)
}
