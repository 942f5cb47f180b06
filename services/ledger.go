package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

const submitMaxRetries uint = 3

// TokenAccountBalance is one discovered token account, already converted to a
// human-readable amount.
type TokenAccountBalance struct {
	Mint   string
	Amount float64
}

// Ledger is the chain-access boundary. Services depend on this interface so
// tests can stand in fakes; LedgerClient is the RPC-backed implementation.
type Ledger interface {
	Balance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	TokenBalanceForMint(ctx context.Context, owner, mint solana.PublicKey) (float64, error)
	TokenAccountsForOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccountBalance, error)
	TransferSOL(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	TransferToken(ctx context.Context, from solana.PrivateKey, to, mint solana.PublicKey, amount uint64) (solana.Signature, error)
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (bool, error)
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	RecentSignatures(ctx context.Context, owner solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error)
	Transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
}

type LedgerClient struct {
	rpc *rpc.Client
}

func NewLedgerClient(rpcURL string) *LedgerClient {
	return &LedgerClient{rpc: rpc.New(rpcURL)}
}

func (l *LedgerClient) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := l.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getting balance: %w", err)
	}
	return out.Value, nil
}

// parsedTokenAccount is the jsonParsed shape of an SPL token account.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				UIAmount float64 `json:"uiAmount"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// TokenBalanceForMint reads the owner's token account for a single mint. An
// unopened token account is a valid zero-balance state, not an error.
func (l *LedgerClient) TokenBalanceForMint(ctx context.Context, owner, mint solana.PublicKey) (float64, error) {
	out, err := l.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed},
	)
	if err != nil {
		return 0, fmt.Errorf("getting token account for mint %s: %w", mint, err)
	}
	if len(out.Value) == 0 {
		return 0, nil
	}

	var acc parsedTokenAccount
	if err := json.Unmarshal(out.Value[0].Account.Data.GetRawJSON(), &acc); err != nil {
		return 0, fmt.Errorf("parsing token account: %w", err)
	}
	return acc.Parsed.Info.TokenAmount.UIAmount, nil
}

// TokenAccountsForOwner enumerates every token-program account the owner
// holds in a single call. One call instead of one per mint is what keeps the
// balance path inside upstream rate limits.
func (l *LedgerClient) TokenAccountsForOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccountBalance, error) {
	programID := solana.TokenProgramID
	out, err := l.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed},
	)
	if err != nil {
		return nil, fmt.Errorf("enumerating token accounts: %w", err)
	}

	accounts := make([]TokenAccountBalance, 0, len(out.Value))
	for _, v := range out.Value {
		var acc parsedTokenAccount
		if err := json.Unmarshal(v.Account.Data.GetRawJSON(), &acc); err != nil {
			log.Printf("⚠️ Skipping unparseable token account %s: %v", v.Pubkey, err)
			continue
		}
		accounts = append(accounts, TokenAccountBalance{
			Mint:   acc.Parsed.Info.Mint,
			Amount: acc.Parsed.Info.TokenAmount.UIAmount,
		})
	}
	return accounts, nil
}

// TransferSOL builds, signs, submits and confirms a native transfer.
func (l *LedgerClient) TransferSOL(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	instr := system.NewTransferInstruction(lamports, from.PublicKey(), to).Build()
	return l.signAndConfirm(ctx, from, []solana.Instruction{instr})
}

// TransferToken moves an SPL token between associated token accounts,
// creating the destination account when it does not exist yet.
func (l *LedgerClient) TransferToken(ctx context.Context, from solana.PrivateKey, to, mint solana.PublicKey, amount uint64) (solana.Signature, error) {
	source, _, err := solana.FindAssociatedTokenAddress(from.PublicKey(), mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("finding source token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(to, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("finding destination token account: %w", err)
	}

	var instrs []solana.Instruction
	if _, err := l.rpc.GetAccountInfo(ctx, dest); err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return solana.Signature{}, fmt.Errorf("checking destination token account: %w", err)
		}
		instrs = append(instrs, associatedtokenaccount.NewCreateInstruction(from.PublicKey(), to, mint).Build())
	}
	instrs = append(instrs, token.NewTransferInstruction(amount, source, dest, from.PublicKey(), nil).Build())

	return l.signAndConfirm(ctx, from, instrs)
}

func (l *LedgerClient) signAndConfirm(ctx context.Context, signer solana.PrivateKey, instrs []solana.Instruction) (solana.Signature, error) {
	recent, err := l.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("getting latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instrs, recent.Value.Blockhash, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("building transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if signer.PublicKey().Equals(key) {
			return &signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("signing transaction: %w", err)
	}

	sig, err := l.SubmitTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}

	ok, err := l.ConfirmTransaction(ctx, sig, recent.Value.LastValidBlockHeight)
	if err != nil {
		return sig, err
	}
	if !ok {
		return sig, fmt.Errorf("transaction %s failed on chain", sig)
	}
	return sig, nil
}

// SubmitTransaction sends a signed transaction with preflight skipped —
// preflight simulation under congestion rejects transactions that would land.
func (l *LedgerClient) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	retries := submitMaxRetries
	sig, err := l.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		MaxRetries:          &retries,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sending transaction: %w", err)
	}
	return sig, nil
}

func (l *LedgerClient) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	height, err := l.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getting block height: %w", err)
	}
	return height, nil
}

// ConfirmTransaction polls for inclusion until the transaction's blockhash
// expires. Returns (true, nil) only when the transaction landed without an
// on-chain execution error. The underlying transfer is not abortable; only
// the polling can time out.
func (l *LedgerClient) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (bool, error) {
	for {
		statuses, err := l.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return status.Err == nil, nil
			}
		}

		height, err := l.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		if err == nil && height > lastValidBlockHeight {
			return false, fmt.Errorf("transaction %s expired: blockhash no longer valid", sig)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (l *LedgerClient) RecentSignatures(ctx context.Context, owner solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	out, err := l.rpc.GetSignaturesForAddressWithOpts(ctx, owner, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("getting signatures: %w", err)
	}
	return out, nil
}

func (l *LedgerClient) Transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	var maxTxVersion uint64 = 0
	out, err := l.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxTxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", sig, err)
	}
	return out, nil
}
