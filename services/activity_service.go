package services

import (
	"context"
	"errors"
	"log"
	"time"

	"custodial-wallet-service/utils"

	solanaswapgo "github.com/franco-bianco/solanaswap-go/solanaswap-go"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gofiber/fiber/v2"
)

const (
	activityCacheTTL = 2 * time.Minute

	// Per-tx parse budget: only the first few signatures get a full
	// GetTransaction, the rest are returned as basic entries.
	maxParsedTransactions = 5
)

// WalletActivity summarizes recent on-chain activity for a wallet.
type WalletActivity struct {
	IsActive             bool    `json:"isActive"`
	LastTransactionTime  *string `json:"lastTransactionTime"`
	TransactionCount24h  int     `json:"transactionCount24h"`
	TotalTransactions    int     `json:"totalTransactions"`
	Status               string  `json:"status"` // Mainnet | Inactive
}

// TransactionSummary is one entry in the recent-activity feed.
type TransactionSummary struct {
	Signature string  `json:"signature"`
	Timestamp int64   `json:"timestamp"` // unix millis
	Type      string  `json:"type"`      // send | receive | swap | other
	Amount    float64 `json:"amount,omitempty"`
	Token     string  `json:"token,omitempty"`
	Status    string  `json:"status"` // confirmed | failed
}

type ActivityService struct {
	Wallets *WalletService
	Ledger  Ledger

	cache *utils.Cache[WalletActivity]
}

func NewActivityService(wallets *WalletService, ledger Ledger) *ActivityService {
	return &ActivityService{
		Wallets: wallets,
		Ledger:  ledger,
		cache:   utils.NewCache[WalletActivity](activityCacheTTL),
	}
}

// GetWalletActivity reads recent signatures and derives activity metrics.
// Any failure degrades to the inactive default — activity is telemetry.
func (a *ActivityService) GetWalletActivity(ctx context.Context, publicKey string) WalletActivity {
	if cached, ok := a.cache.Get(publicKey); ok {
		return cached
	}

	inactive := WalletActivity{Status: "Inactive"}

	owner, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		log.Printf("❌ Error fetching wallet activity: invalid address %s: %v", publicKey, err)
		return inactive
	}

	signatures, err := a.Ledger.RecentSignatures(ctx, owner, 20)
	if err != nil {
		log.Printf("❌ Error fetching wallet activity: %v", err)
		return inactive
	}

	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	var count24h int
	var isActive bool
	var lastTxTime *string

	for _, sig := range signatures {
		if sig.BlockTime == nil {
			continue
		}
		t := sig.BlockTime.Time()
		if t.After(dayAgo) {
			count24h++
		}
		if t.After(weekAgo) {
			isActive = true
		}
	}
	if len(signatures) > 0 && signatures[0].BlockTime != nil {
		formatted := signatures[0].BlockTime.Time().UTC().Format(time.RFC3339)
		lastTxTime = &formatted
	}

	status := "Inactive"
	if isActive {
		status = "Mainnet"
	}

	activity := WalletActivity{
		IsActive:            isActive,
		LastTransactionTime: lastTxTime,
		TransactionCount24h: count24h,
		TotalTransactions:   len(signatures),
		Status:              status,
	}
	a.cache.Set(publicKey, activity)
	return activity
}

// GetRecentTransactions returns up to limit recent transactions, fully
// parsing only the first few to stay inside RPC rate limits. Parse failures
// degrade to basic entries, never to an error.
func (a *ActivityService) GetRecentTransactions(ctx context.Context, publicKey string, limit int) []TransactionSummary {
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	owner, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		log.Printf("❌ Error fetching recent transactions: %v", err)
		return []TransactionSummary{}
	}

	signatures, err := a.Ledger.RecentSignatures(ctx, owner, limit)
	if err != nil {
		log.Printf("❌ Error fetching recent transactions: %v", err)
		return []TransactionSummary{}
	}

	transactions := make([]TransactionSummary, 0, len(signatures))

	parseBudget := maxParsedTransactions
	if len(signatures) < parseBudget {
		parseBudget = len(signatures)
	}

	for i, sig := range signatures {
		summary := TransactionSummary{
			Signature: sig.Signature.String(),
			Timestamp: time.Now().UnixMilli(),
			Type:      "other",
			Status:    "confirmed",
		}
		if sig.BlockTime != nil {
			summary.Timestamp = sig.BlockTime.Time().UnixMilli()
		}
		if sig.Err != nil {
			summary.Status = "failed"
		}

		if i < parseBudget {
			if i > 0 {
				// Spacing between GetTransaction calls, same reason as the
				// balance path: the RPC provider rate-limits aggressively.
				select {
				case <-ctx.Done():
					transactions = append(transactions, summary)
					continue
				case <-time.After(200 * time.Millisecond):
				}
			}

			tx, err := a.Ledger.Transaction(ctx, sig.Signature)
			if err != nil {
				log.Printf("⚠️ Failed to parse transaction %s: %v", sig.Signature, err)
			} else if tx != nil {
				summary.Type = classifyTransaction(tx)
				if amount, token, ok := extractTransferAmount(tx); ok {
					summary.Amount = amount
					summary.Token = token
				}
			}
		}

		transactions = append(transactions, summary)
	}

	return transactions
}

// classifyTransaction labels a transaction. Swap detection runs the real
// swap parser over the transaction; send/receive falls back to the fee-payer
// balance delta.
func classifyTransaction(tx *rpc.GetTransactionResult) string {
	if tx.Transaction != nil {
		if parser, err := solanaswapgo.NewTransactionParser(tx); err == nil {
			if data, err := parser.ParseTransaction(); err == nil {
				if info, err := parser.ProcessSwapData(data); err == nil && info != nil {
					return "swap"
				}
			}
		}
	}

	if tx.Meta == nil || len(tx.Meta.PreBalances) == 0 || len(tx.Meta.PostBalances) == 0 {
		return "other"
	}

	delta := int64(tx.Meta.PostBalances[0]) - int64(tx.Meta.PreBalances[0])
	switch {
	case delta < -5000: // more than the fee left the fee payer
		return "send"
	case delta > 1000:
		return "receive"
	default:
		return "other"
	}
}

// extractTransferAmount reports the fee payer's SOL delta when it is above
// dust. Token amounts would need full token-balance diffing; not attempted.
func extractTransferAmount(tx *rpc.GetTransactionResult) (float64, string, bool) {
	if tx.Meta == nil || len(tx.Meta.PreBalances) == 0 || len(tx.Meta.PostBalances) == 0 {
		return 0, "", false
	}

	delta := int64(tx.Meta.PostBalances[0]) - int64(tx.Meta.PreBalances[0])
	if delta < 0 {
		delta = -delta
	}
	amount := float64(delta) / float64(solana.LAMPORTS_PER_SOL)
	if amount <= 0.0001 {
		return 0, "", false
	}
	return amount, "SOL", true
}

// --- Fiber endpoints ---

func (a *ActivityService) walletForRequest(c *fiber.Ctx) (string, int, error) {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return "", fiber.StatusUnauthorized, errors.New("Unauthorized")
	}
	wallet, err := a.Wallets.GetWalletForUser(userID)
	if err != nil {
		return "", fiber.StatusInternalServerError, errors.New("Internal server error")
	}
	if wallet == nil {
		return "", fiber.StatusNotFound, errors.New("Wallet not found")
	}
	return wallet.PublicKey, 0, nil
}

func (a *ActivityService) GetWalletActivityEndpoint(c *fiber.Ctx) error {
	publicKey, status, err := a.walletForRequest(c)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(a.GetWalletActivity(c.Context(), publicKey))
}

func (a *ActivityService) GetRecentTransactionsEndpoint(c *fiber.Ctx) error {
	publicKey, status, err := a.walletForRequest(c)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	limit := c.QueryInt("limit", 10)
	return c.JSON(fiber.Map{"transactions": a.GetRecentTransactions(c.Context(), publicKey, limit)})
}
