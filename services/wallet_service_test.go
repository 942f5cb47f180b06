package services

import (
	"context"
	"errors"
	"testing"

	"custodial-wallet-service/models"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeLedger satisfies Ledger without touching the network.
type fakeLedger struct {
	balance       uint64
	balanceErr    error
	tokenAccounts []TokenAccountBalance
	accountsErr   error
	transferErr   error
	transfers     []uint64 // lamports/raw amounts passed to transfer calls
	confirmResult bool
	blockHeight   uint64
	heightErr     error
	confirmBounds []uint64 // lastValidBlockHeight values passed to ConfirmTransaction
	signatures    []*rpc.TransactionSignature
	sigErr        error
	txErr         error
}

func (f *fakeLedger) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeLedger) TokenBalanceForMint(ctx context.Context, owner, mint solana.PublicKey) (float64, error) {
	for _, acc := range f.tokenAccounts {
		if acc.Mint == mint.String() {
			return acc.Amount, nil
		}
	}
	return 0, f.accountsErr
}

func (f *fakeLedger) TokenAccountsForOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccountBalance, error) {
	return f.tokenAccounts, f.accountsErr
}

func (f *fakeLedger) TransferSOL(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if f.transferErr != nil {
		return solana.Signature{}, f.transferErr
	}
	f.transfers = append(f.transfers, lamports)
	return solana.Signature{}, nil
}

func (f *fakeLedger) TransferToken(ctx context.Context, from solana.PrivateKey, to, mint solana.PublicKey, amount uint64) (solana.Signature, error) {
	if f.transferErr != nil {
		return solana.Signature{}, f.transferErr
	}
	f.transfers = append(f.transfers, amount)
	return solana.Signature{}, nil
}

func (f *fakeLedger) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if f.transferErr != nil {
		return solana.Signature{}, f.transferErr
	}
	return solana.Signature{}, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (bool, error) {
	f.confirmBounds = append(f.confirmBounds, lastValidBlockHeight)
	return f.confirmResult, nil
}

func (f *fakeLedger) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	return f.blockHeight, f.heightErr
}

func (f *fakeLedger) RecentSignatures(ctx context.Context, owner solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	if limit < len(f.signatures) {
		return f.signatures[:limit], nil
	}
	return f.signatures, nil
}

func (f *fakeLedger) Transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	return nil, f.txErr
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Wallet{}, &models.SavedWallet{}))
	return db
}

func testMasterKey(t *testing.T) *solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &key
}

func TestCreateAndFundWallet_Funded(t *testing.T) {
	ledger := &fakeLedger{confirmResult: true}
	svc := NewWalletService(testDB(t), ledger, testMasterKey(t))

	created, err := svc.CreateAndFundWallet(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, created.Funded)

	wallet, err := svc.GetWalletForUser("user-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.True(t, wallet.IsActivated)
	assert.Equal(t, created.PublicKey, wallet.PublicKey)
	assert.NotEmpty(t, wallet.PrivateKey)
	assert.NotEmpty(t, wallet.Mnemonic)

	// Funding transferred exactly the bootstrap amount
	require.Len(t, ledger.transfers, 1)
	assert.Equal(t, uint64(1_000_000), ledger.transfers[0], "0.001 SOL in lamports")
}

func TestCreateAndFundWallet_NoMasterKey(t *testing.T) {
	svc := NewWalletService(testDB(t), &fakeLedger{}, nil)

	created, err := svc.CreateAndFundWallet(context.Background(), "user-1")
	require.NoError(t, err, "wallet creation must succeed without a funding signer")
	assert.False(t, created.Funded)

	wallet, err := svc.GetWalletForUser("user-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.False(t, wallet.IsActivated, "unfunded wallets stay unactivated for later reconciliation")
	assert.NotEmpty(t, wallet.PrivateKey, "key material persists even when funding is skipped")
}

func TestCreateAndFundWallet_FundingFails(t *testing.T) {
	ledger := &fakeLedger{transferErr: errors.New("rpc timeout")}
	svc := NewWalletService(testDB(t), ledger, testMasterKey(t))

	created, err := svc.CreateAndFundWallet(context.Background(), "user-1")
	require.NoError(t, err, "a funding failure must not lose the wallet")
	assert.False(t, created.Funded)

	wallet, err := svc.GetWalletForUser("user-1")
	require.NoError(t, err)
	require.NotNil(t, wallet)
	assert.False(t, wallet.IsActivated)
}

func TestGetWalletForUser_Missing(t *testing.T) {
	svc := NewWalletService(testDB(t), &fakeLedger{}, nil)

	wallet, err := svc.GetWalletForUser("nobody")
	require.NoError(t, err)
	assert.Nil(t, wallet)
}

func TestGetMultipleTokenBalances(t *testing.T) {
	ledger := &fakeLedger{
		balance: 2_500_000_000, // 2.5 SOL
		tokenAccounts: []TokenAccountBalance{
			{Mint: Tokens["USDC"], Amount: 42.5},
			{Mint: Tokens["BONK"], Amount: 0}, // zero accounts are skipped
			{Mint: "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R", Amount: 7},
		},
	}
	svc := NewWalletService(testDB(t), ledger, nil)
	_, err := svc.CreateAndFundWallet(context.Background(), "user-1")
	require.NoError(t, err)

	balances, err := svc.GetMultipleTokenBalances(context.Background(), "user-1", []string{"SOL", "USDC", "JUP"})
	require.NoError(t, err)

	assert.Equal(t, 2.5, balances["SOL"])
	assert.Equal(t, 42.5, balances["USDC"])
	assert.Equal(t, 0.0, balances["JUP"], "requested but unheld tokens are zero-filled")
	assert.Equal(t, 7.0, balances["4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"],
		"unknown mints keep their raw address as key")
	_, hasBonk := balances["BONK"]
	assert.False(t, hasBonk, "zero-balance accounts that were not requested do not appear")
}

func TestGetMultipleTokenBalances_EnumerationFails(t *testing.T) {
	ledger := &fakeLedger{
		balance:     1_000_000_000,
		accountsErr: errors.New("rpc unavailable"),
	}
	svc := NewWalletService(testDB(t), ledger, nil)
	_, err := svc.CreateAndFundWallet(context.Background(), "user-1")
	require.NoError(t, err)

	balances, err := svc.GetMultipleTokenBalances(context.Background(), "user-1", nil)
	require.NoError(t, err, "enumeration failure degrades, it does not error")

	assert.Equal(t, 1.0, balances["SOL"])
	for _, sym := range fallbackSymbols {
		v, ok := balances[sym]
		assert.True(t, ok, "fallback set should include %s", sym)
		assert.Equal(t, 0.0, v)
	}
}

func TestGetMultipleTokenBalances_NoWallet(t *testing.T) {
	svc := NewWalletService(testDB(t), &fakeLedger{}, nil)

	_, err := svc.GetMultipleTokenBalances(context.Background(), "nobody", []string{"SOL"})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestSendTokens(t *testing.T) {
	ledger := &fakeLedger{}
	svc := NewWalletService(testDB(t), ledger, nil)
	_, err := svc.CreateAndFundWallet(context.Background(), "user-1")
	require.NoError(t, err)

	dest := testMasterKey(t).PublicKey().String()

	t.Run("sol transfer scales to lamports", func(t *testing.T) {
		ledger.transfers = nil
		result, err := svc.SendTokens(context.Background(), "user-1", dest, "SOL", 0.5)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.Len(t, ledger.transfers, 1)
		assert.Equal(t, uint64(500_000_000), ledger.transfers[0])
	})

	t.Run("spl transfer scales by token decimals", func(t *testing.T) {
		ledger.transfers = nil
		result, err := svc.SendTokens(context.Background(), "user-1", dest, "USDC", 12.5)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.Len(t, ledger.transfers, 1)
		assert.Equal(t, uint64(12_500_000), ledger.transfers[0], "USDC has 6 decimals")
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := svc.SendTokens(context.Background(), "user-1", dest, "SOL", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("missing wallet", func(t *testing.T) {
		_, err := svc.SendTokens(context.Background(), "nobody", dest, "SOL", 1)
		assert.ErrorIs(t, err, ErrWalletNotFound)
	})
}

func TestSavedWallets_Cap(t *testing.T) {
	svc := NewWalletService(testDB(t), &fakeLedger{}, nil)

	for i := 0; i < MaxSavedWallets; i++ {
		_, err := svc.AddSavedWallet("user-1", "Friend", "addr")
		require.NoError(t, err)
	}

	_, err := svc.AddSavedWallet("user-1", "One too many", "addr")
	require.ErrorIs(t, err, ErrMaxSavedWallets)
	assert.Equal(t, "Maximum 4 saved wallets allowed", err.Error())

	// The cap is per user
	_, err = svc.AddSavedWallet("user-2", "Fresh user", "addr")
	assert.NoError(t, err)
}

func TestSavedWallets_DeleteScopedToUser(t *testing.T) {
	svc := NewWalletService(testDB(t), &fakeLedger{}, nil)

	saved, err := svc.AddSavedWallet("user-1", "Mine", "addr")
	require.NoError(t, err)

	// Another user deleting by id is a silent no-op
	require.NoError(t, svc.DeleteSavedWallet("user-2", saved.ID))
	remaining, err := svc.GetSavedWallets("user-1")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	require.NoError(t, svc.DeleteSavedWallet("user-1", saved.ID))
	remaining, err = svc.GetSavedWallets("user-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
