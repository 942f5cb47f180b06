package services

import (
	"errors"
	"fmt"
)

// Error taxonomy for the wallet core. Handlers map these onto HTTP statuses;
// balance reads never surface them (they degrade to zero instead).
var (
	ErrWalletNotFound        = errors.New("wallet not found for user")
	ErrInvalidAmount         = errors.New("invalid amount for swap")
	ErrInvalidSwapParameters = errors.New("invalid swap parameters: check token amounts and balances")
	ErrInsufficientBalance   = errors.New("insufficient balance for this swap")
	ErrSlippageExceeded      = errors.New("slippage tolerance exceeded: try increasing slippage or reducing amount")
	ErrMaxSavedWallets       = errors.New("Maximum 4 saved wallets allowed")
)

// SwapError is the generic upstream swap failure, carrying the router's message.
type SwapError struct {
	Upstream string
}

func (e *SwapError) Error() string {
	if e.Upstream == "" {
		return "swap failed: unknown error"
	}
	return fmt.Sprintf("swap failed: %s", e.Upstream)
}
