package services

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"math"
	"os"

	"custodial-wallet-service/models"

	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"gorm.io/gorm"
)

// DefaultFundAmountSOL is the bootstrap transfer made to every new wallet.
const DefaultFundAmountSOL = 0.001

// MaxSavedWallets is the per-user cap on bookmarked external addresses.
const MaxSavedWallets = 4

// fallbackSymbols is zero-filled when the token-account enumeration fails, so
// the balance map always renders something.
var fallbackSymbols = []string{"USDC", "USDT", "BONK", "WIF", "JUP", "FARTCOIN"}

type WalletService struct {
	DB     *gorm.DB
	Ledger Ledger

	// MasterKey is the custodial funding signer. nil means auto-funding is
	// soft-disabled: wallet creation still succeeds, wallets stay unactivated.
	MasterKey *solana.PrivateKey
}

func NewWalletService(db *gorm.DB, ledger Ledger, masterKey *solana.PrivateKey) *WalletService {
	return &WalletService{DB: db, Ledger: ledger, MasterKey: masterKey}
}

// LoadMasterKey reads MASTER_WALLET_PRIVATE_KEY, accepting base58 or base64
// encodings. Absence is not an error — funding is an optional capability.
func LoadMasterKey() *solana.PrivateKey {
	encoded := os.Getenv("MASTER_WALLET_PRIVATE_KEY")
	if encoded == "" {
		log.Println("⚠️  MASTER_WALLET_PRIVATE_KEY not found - auto-funding disabled")
		return nil
	}

	raw, err := base58.Decode(encoded)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(encoded)
	}
	if err != nil || len(raw) != 64 {
		log.Printf("❌ Invalid master wallet private key - auto-funding disabled")
		return nil
	}

	key := solana.PrivateKey(raw)
	return &key
}

// CreatedWallet is the result of provisioning: fresh key material plus
// whether the bootstrap funding confirmed.
type CreatedWallet struct {
	WalletData
	Funded bool `json:"funded"`
}

// AutoFundWallet transfers the bootstrap amount from the master account to a
// newly created wallet. Returns false (not an error) when no master signer is
// configured. Idempotency is the caller's concern, via the IsActivated flag.
func (s *WalletService) AutoFundWallet(ctx context.Context, destination string, amountSOL float64) bool {
	if s.MasterKey == nil {
		log.Println("⚠️  Master wallet not configured - skipping auto-funding")
		return false
	}

	recipient, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		log.Printf("❌ Auto-funding failed: invalid destination %s: %v", destination, err)
		return false
	}

	lamports := uint64(math.Floor(amountSOL * float64(solana.LAMPORTS_PER_SOL)))
	sig, err := s.Ledger.TransferSOL(ctx, *s.MasterKey, recipient, lamports)
	if err != nil {
		log.Printf("❌ Auto-funding failed for %s: %v", destination, err)
		return false
	}

	log.Printf("✅ Auto-funded wallet %s with %v SOL. Signature: %s", destination, amountSOL, sig)
	return true
}

// CreateAndFundWallet generates key material, persists the record, then
// attempts funding. The persistence write MUST land before funding so a
// funding failure (or crash mid-funding) leaves a recoverable unfunded wallet
// rather than lost keys. IsActivated flips only after confirmed funding.
func (s *WalletService) CreateAndFundWallet(ctx context.Context, userID string) (CreatedWallet, error) {
	data, err := GenerateWallet()
	if err != nil {
		return CreatedWallet{}, err
	}

	wallet := models.Wallet{
		ID:          uuid.NewString(),
		UserID:      userID,
		PublicKey:   data.PublicKey,
		PrivateKey:  data.PrivateKey,
		Mnemonic:    data.Mnemonic,
		IsActivated: false,
	}
	if err := s.DB.Create(&wallet).Error; err != nil {
		return CreatedWallet{}, err
	}

	funded := s.AutoFundWallet(ctx, data.PublicKey, DefaultFundAmountSOL)
	if funded {
		if err := s.DB.Model(&models.Wallet{}).Where("user_id = ?", userID).
			Update("is_activated", true).Error; err != nil {
			log.Printf("❌ Failed to mark wallet %s activated: %v", data.PublicKey, err)
		}
	}

	return CreatedWallet{WalletData: data, Funded: funded}, nil
}

// GetWalletForUser returns nil without error when the user has no wallet.
func (s *WalletService) GetWalletForUser(userID string) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// GetBalance reads the native balance for an address in whole SOL. Balance
// reads are best-effort telemetry: any failure degrades to 0 and a log line.
func (s *WalletService) GetBalance(ctx context.Context, address string) float64 {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		log.Printf("❌ Error getting balance: invalid address %s: %v", address, err)
		return 0
	}
	lamports, err := s.Ledger.Balance(ctx, pubkey)
	if err != nil {
		log.Printf("❌ Error getting balance for %s: %v", address, err)
		return 0
	}
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

func (s *WalletService) GetUserWalletBalance(ctx context.Context, userID string) (float64, error) {
	wallet, err := s.GetWalletForUser(userID)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, ErrWalletNotFound
	}
	return s.GetBalance(ctx, wallet.PublicKey), nil
}

// GetTokenBalance reads a single token balance for a user. SOL is a direct
// balance read; anything else goes through the owner's token account for that
// mint. Never errors — an unreadable balance is reported as zero.
func (s *WalletService) GetTokenBalance(ctx context.Context, userID, tokenMint string) float64 {
	wallet, err := s.GetWalletForUser(userID)
	if err != nil || wallet == nil {
		log.Printf("❌ Error getting token balance: no wallet for user %s", userID)
		return 0
	}

	ref := ResolveMint(tokenMint)
	if ref.Symbol == "SOL" || tokenMint == "native" {
		return s.GetBalance(ctx, wallet.PublicKey)
	}

	owner, err := solana.PublicKeyFromBase58(wallet.PublicKey)
	if err != nil {
		log.Printf("❌ Error getting token balance: %v", err)
		return 0
	}
	mint, err := solana.PublicKeyFromBase58(ref.Address)
	if err != nil {
		log.Printf("❌ Error getting token balance: invalid mint %s: %v", tokenMint, err)
		return 0
	}

	amount, err := s.Ledger.TokenBalanceForMint(ctx, owner, mint)
	if err != nil {
		log.Printf("❌ Error getting token balance for %s: %v", tokenMint, err)
		return 0
	}
	return amount
}

// GetMultipleTokenBalances fetches the native balance plus ALL of the
// wallet's token accounts in one enumeration call, then maps discovered
// mints back to known symbols and zero-fills whatever was requested but not
// found. On enumeration failure it degrades to a zero-filled known-symbol
// set — the caller always gets a renderable map, never an error.
func (s *WalletService) GetMultipleTokenBalances(ctx context.Context, userID string, tokens []string) (map[string]float64, error) {
	wallet, err := s.GetWalletForUser(userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	owner, err := solana.PublicKeyFromBase58(wallet.PublicKey)
	if err != nil {
		return nil, err
	}

	balances := map[string]float64{}

	solBalance, err := s.Ledger.Balance(ctx, owner)
	if err != nil {
		log.Println("⚠️ SOL balance fetch failed, setting to 0")
		balances["SOL"] = 0
	} else {
		balances["SOL"] = float64(solBalance) / float64(solana.LAMPORTS_PER_SOL)
	}

	accounts, err := s.Ledger.TokenAccountsForOwner(ctx, owner)
	if err != nil {
		log.Printf("❌ Error getting SPL token balances: %v", err)
		for _, sym := range fallbackSymbols {
			if _, ok := balances[sym]; !ok {
				balances[sym] = 0
			}
		}
		return balances, nil
	}

	log.Printf("Found %d token accounts for %s", len(accounts), wallet.PublicKey)

	for _, acc := range accounts {
		if acc.Amount <= 0 {
			continue
		}
		if sym, ok := SymbolForMint(acc.Mint); ok {
			balances[sym] = acc.Amount
		} else {
			balances[acc.Mint] = acc.Amount
		}
	}

	// Zero-fill requested tokens that were not among the discovered accounts.
	for _, t := range tokens {
		ref := ResolveMint(t)
		key := ref.Address
		if ref.Known {
			key = ref.Symbol
		}
		if key == "SOL" {
			continue
		}
		if _, ok := balances[key]; !ok {
			balances[key] = 0
		}
	}

	return balances, nil
}

// SendResult reports a completed transfer to an external address.
type SendResult struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
}

// SendTokens transfers SOL or an SPL token from the user's custodial wallet
// to an external address. Amounts are human-readable decimals here.
func (s *WalletService) SendTokens(ctx context.Context, userID, toAddress, tokenName string, amount float64) (SendResult, error) {
	wallet, err := s.GetWalletForUser(userID)
	if err != nil {
		return SendResult{}, err
	}
	if wallet == nil {
		return SendResult{}, ErrWalletNotFound
	}
	if amount <= 0 {
		return SendResult{}, ErrInvalidAmount
	}

	keypair, err := RecreateKeypair(wallet.PrivateKey)
	if err != nil {
		return SendResult{}, err
	}
	to, err := solana.PublicKeyFromBase58(toAddress)
	if err != nil {
		return SendResult{}, err
	}

	ref := ResolveMint(tokenName)
	if ref.Symbol == "SOL" {
		lamports := uint64(math.Floor(amount * float64(solana.LAMPORTS_PER_SOL)))
		sig, err := s.Ledger.TransferSOL(ctx, keypair, to, lamports)
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{Success: true, Signature: sig.String()}, nil
	}

	mint, err := solana.PublicKeyFromBase58(ref.Address)
	if err != nil {
		return SendResult{}, err
	}
	scale := math.Pow(10, float64(DecimalsForSymbol(ref.Symbol)))
	raw := uint64(math.Floor(amount * scale))

	sig, err := s.Ledger.TransferToken(ctx, keypair, to, mint, raw)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Success: true, Signature: sig.String()}, nil
}

// --- Saved external wallets ---

func (s *WalletService) GetSavedWallets(userID string) ([]models.SavedWallet, error) {
	var saved []models.SavedWallet
	err := s.DB.Where("user_id = ?", userID).Order("created_at desc").Find(&saved).Error
	return saved, err
}

func (s *WalletService) AddSavedWallet(userID, label, address string) (models.SavedWallet, error) {
	var count int64
	if err := s.DB.Model(&models.SavedWallet{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return models.SavedWallet{}, err
	}
	if count >= MaxSavedWallets {
		return models.SavedWallet{}, ErrMaxSavedWallets
	}

	saved := models.SavedWallet{
		ID:      uuid.NewString(),
		UserID:  userID,
		Label:   label,
		Address: address,
	}
	if err := s.DB.Create(&saved).Error; err != nil {
		return models.SavedWallet{}, err
	}
	return saved, nil
}

// DeleteSavedWallet deletes only when both id and userId match, so one user
// cannot remove another user's bookmarks.
func (s *WalletService) DeleteSavedWallet(userID, walletID string) error {
	return s.DB.Where("id = ? AND user_id = ?", walletID, userID).
		Delete(&models.SavedWallet{}).Error
}

// --- Fiber endpoints ---

func userIDFromCtx(c *fiber.Ctx) (string, bool) {
	userID, _ := c.Locals("user_id").(string)
	return userID, userID != ""
}

// ProvisionWallet is called by the gateway on first successful
// authentication: returns the existing wallet or creates and funds one.
func (s *WalletService) ProvisionWallet(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	existing, err := s.GetWalletForUser(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	if existing != nil {
		return c.JSON(fiber.Map{
			"publicKey":   existing.PublicKey,
			"isActivated": existing.IsActivated,
			"created":     false,
		})
	}

	created, err := s.CreateAndFundWallet(c.Context(), userID)
	if err != nil {
		log.Printf("❌ Error creating wallet for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(fiber.Map{
		"publicKey":   created.PublicKey,
		"isActivated": created.Funded,
		"funded":      created.Funded,
		"created":     true,
	})
}

// GetMyWallet returns the wallet record minus key material — the private key
// and mnemonic never leave this process.
func (s *WalletService) GetMyWallet(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	wallet, err := s.GetWalletForUser(userID)
	if err != nil {
		log.Printf("❌ Error getting wallet: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	if wallet == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
	}

	return c.JSON(fiber.Map{
		"publicKey":   wallet.PublicKey,
		"isActivated": wallet.IsActivated,
		"createdAt":   wallet.CreatedAt,
		"updatedAt":   wallet.UpdatedAt,
	})
}

func (s *WalletService) GetWalletBalance(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	balance, err := s.GetUserWalletBalance(c.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
		}
		log.Printf("❌ Error getting balance: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(fiber.Map{"balance": balance})
}

func (s *WalletService) GetTokenBalances(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var body struct {
		Tokens []string `json:"tokens"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}

	balances, err := s.GetMultipleTokenBalances(c.Context(), userID, body.Tokens)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(fiber.Map{"balances": balances})
}

func (s *WalletService) GetSingleTokenBalance(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	token := c.Params("token")
	balance := s.GetTokenBalance(c.Context(), userID, token)
	return c.JSON(fiber.Map{"token": token, "balance": balance})
}

func (s *WalletService) SendTokensEndpoint(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var body struct {
		ToAddress string  `json:"toAddress"`
		Amount    float64 `json:"amount"`
		Token     string  `json:"token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if body.ToAddress == "" || body.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "toAddress and token are required"})
	}

	result, err := s.SendTokens(c.Context(), userID, body.ToAddress, body.Token, body.Amount)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
		}
		if errors.Is(err, ErrInvalidAmount) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("❌ Error sending tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to send " + body.Token + ": " + err.Error(),
		})
	}
	return c.JSON(result)
}

func (s *WalletService) GetSavedWalletsEndpoint(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	saved, err := s.GetSavedWallets(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(fiber.Map{"wallets": saved})
}

func (s *WalletService) AddSavedWalletEndpoint(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var body struct {
		Label   string `json:"label"`
		Address string `json:"address"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if body.Label == "" || body.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "label and address are required"})
	}

	saved, err := s.AddSavedWallet(userID, body.Label, body.Address)
	if err != nil {
		if errors.Is(err, ErrMaxSavedWallets) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(saved)
}

func (s *WalletService) DeleteSavedWalletEndpoint(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	if err := s.DeleteSavedWallet(userID, c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(fiber.Map{"success": true})
}
