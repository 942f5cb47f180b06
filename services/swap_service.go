package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultJupiterBaseURL = "https://quote-api.jup.ag/v6"
	defaultSlippageBps    = 50

	// Confirmation window in slots added to the current chain height when the
	// router omits a block height, matching the recent-blockhash validity span.
	blockhashValiditySlots = 150
)

// SwapQuote is the ephemeral quote pulled immediately before execution.
// Amounts stay in the router's string form (smallest indivisible units) and
// pass through unchanged.
type SwapQuote struct {
	InputMint      string          `json:"inputMint"`
	InputAmount    string          `json:"inputAmount"`
	OutputMint     string          `json:"outputMint"`
	OutputAmount   string          `json:"outputAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`

	raw json.RawMessage // full router response, replayed into the swap request
}

// SwapResult is the outcome of an executed swap.
type SwapResult struct {
	Signature      string `json:"signature"`
	Success        bool   `json:"success"`
	InputAmount    string `json:"inputAmount"`
	OutputAmount   string `json:"outputAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type SwapService struct {
	Wallets *WalletService
	Ledger  Ledger

	BaseURL string
	HTTP    *http.Client
}

func NewSwapService(wallets *WalletService, ledger Ledger, baseURL string, client *http.Client) *SwapService {
	if baseURL == "" {
		baseURL = defaultJupiterBaseURL
	}
	return &SwapService{Wallets: wallets, Ledger: ledger, BaseURL: baseURL, HTTP: client}
}

// readBodyOnce drains and closes the response body into a buffer. Every error
// path parses from this buffer — the stream itself is consumed exactly once.
func readBodyOnce(resp *http.Response) []byte {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	return body
}

// routerMessage pulls a human-readable error out of a router response body.
func routerMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// classifySwapError maps a router failure onto the swap error taxonomy.
func classifySwapError(status int, body []byte) error {
	msg := routerMessage(body)
	switch {
	case status == http.StatusUnprocessableEntity:
		return ErrInvalidSwapParameters
	case strings.Contains(strings.ToLower(msg), "insufficient"):
		return ErrInsufficientBalance
	case strings.Contains(strings.ToLower(msg), "slippage"):
		return ErrSlippageExceeded
	default:
		return &SwapError{Upstream: msg}
	}
}

// fetchQuote requests a fresh quote from the router. Quotes expire quickly
// with price movement, so callers must never reuse one across operations.
func (s *SwapService) fetchQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*SwapQuote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("onlyDirectRoutes", "false")
	q.Set("asLegacyTransaction", "false")

	req, err := http.NewRequestWithContext(ctx, "GET", s.BaseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling swap router: %w", err)
	}
	body := readBodyOnce(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, classifySwapError(resp.StatusCode, body)
	}

	var quote struct {
		InputMint      string          `json:"inputMint"`
		InAmount       string          `json:"inAmount"`
		OutputMint     string          `json:"outputMint"`
		OutAmount      string          `json:"outAmount"`
		PriceImpactPct string          `json:"priceImpactPct"`
		RoutePlan      json.RawMessage `json:"routePlan"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("parsing quote response: %w", err)
	}
	if quote.InAmount == "" || quote.OutAmount == "" {
		return nil, &SwapError{Upstream: "unable to get valid swap quote"}
	}

	return &SwapQuote{
		InputMint:      quote.InputMint,
		InputAmount:    quote.InAmount,
		OutputMint:     quote.OutputMint,
		OutputAmount:   quote.OutAmount,
		PriceImpactPct: quote.PriceImpactPct,
		RoutePlan:      quote.RoutePlan,
		raw:            body,
	}, nil
}

// fetchSwapTransaction asks the router to build the unsigned transaction for
// a quote, addressed to the user's public key. Signing happens locally.
func (s *SwapService) fetchSwapTransaction(ctx context.Context, quote *SwapQuote, userPublicKey string) (string, uint64, error) {
	payload, err := json.Marshal(map[string]any{
		"quoteResponse":    json.RawMessage(quote.raw),
		"userPublicKey":    userPublicKey,
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.BaseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("calling swap router: %w", err)
	}
	body := readBodyOnce(resp)

	if resp.StatusCode != http.StatusOK {
		return "", 0, classifySwapError(resp.StatusCode, body)
	}

	var swap struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	if err := json.Unmarshal(body, &swap); err != nil {
		return "", 0, fmt.Errorf("parsing swap response: %w", err)
	}
	if swap.SwapTransaction == "" {
		return "", 0, &SwapError{Upstream: "invalid swap transaction received"}
	}
	return swap.SwapTransaction, swap.LastValidBlockHeight, nil
}

// GetSwapQuote resolves token references (SOL becomes the wrapped SOL mint)
// and returns the router's quote unchanged.
func (s *SwapService) GetSwapQuote(ctx context.Context, inputToken, outputToken string, amount uint64, slippageBps int) (*SwapQuote, error) {
	if slippageBps <= 0 {
		slippageBps = defaultSlippageBps
	}
	input := ResolveMint(inputToken)
	output := ResolveMint(outputToken)

	quote, err := s.fetchQuote(ctx, input.Address, output.Address, amount, slippageBps)
	if err != nil {
		return nil, fmt.Errorf("failed to get swap quote: %w", err)
	}
	return quote, nil
}

// ExecuteSwap runs the full pipeline: recover the user's keypair, fetch a
// fresh quote, have the router build the transaction, sign locally, submit
// without preflight, and poll for confirmation. The private key never leaves
// this process.
func (s *SwapService) ExecuteSwap(ctx context.Context, userID, inputToken, outputToken string, amount uint64, slippageBps int) (SwapResult, error) {
	wallet, err := s.Wallets.GetWalletForUser(userID)
	if err != nil {
		return SwapResult{}, err
	}
	if wallet == nil {
		return SwapResult{}, ErrWalletNotFound
	}
	if amount == 0 {
		return SwapResult{}, ErrInvalidAmount
	}
	if slippageBps <= 0 {
		slippageBps = defaultSlippageBps
	}

	keypair, err := RecreateKeypair(wallet.PrivateKey)
	if err != nil {
		return SwapResult{}, err
	}

	input := ResolveMint(inputToken)
	output := ResolveMint(outputToken)

	log.Printf("Swap parameters: input=%s output=%s amount=%d user=%s",
		input.Address, output.Address, amount, keypair.PublicKey())

	// Always a fresh quote here — a quote fetched earlier in the request
	// lifecycle is already stale.
	quote, err := s.fetchQuote(ctx, input.Address, output.Address, amount, slippageBps)
	if err != nil {
		return SwapResult{}, err
	}
	log.Printf("Got quote: in=%s out=%s impact=%s", quote.InputAmount, quote.OutputAmount, quote.PriceImpactPct)

	txBase64, lastValidBlockHeight, err := s.fetchSwapTransaction(ctx, quote, keypair.PublicKey().String())
	if err != nil {
		return SwapResult{}, err
	}

	// The router occasionally omits the block height. The expiry bound is an
	// absolute chain height, so derive it from the current tip before
	// submitting anything.
	if lastValidBlockHeight == 0 {
		height, err := s.Ledger.CurrentBlockHeight(ctx)
		if err != nil {
			return SwapResult{}, fmt.Errorf("getting block height: %w", err)
		}
		lastValidBlockHeight = height + blockhashValiditySlots
	}

	rawTx, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return SwapResult{}, fmt.Errorf("decoding swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return SwapResult{}, fmt.Errorf("deserializing swap transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if keypair.PublicKey().Equals(key) {
			return &keypair
		}
		return nil
	}); err != nil {
		return SwapResult{}, fmt.Errorf("signing swap transaction: %w", err)
	}

	sig, err := s.Ledger.SubmitTransaction(ctx, tx)
	if err != nil {
		return SwapResult{}, &SwapError{Upstream: err.Error()}
	}

	confirmCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	success, err := s.Ledger.ConfirmTransaction(confirmCtx, sig, lastValidBlockHeight)
	if err != nil {
		log.Printf("⚠️ Confirmation polling for %s ended early: %v", sig, err)
	}

	return SwapResult{
		Signature:      sig.String(),
		Success:        success,
		InputAmount:    quote.InputAmount,
		OutputAmount:   quote.OutputAmount,
		PriceImpactPct: quote.PriceImpactPct,
	}, nil
}

// --- Fiber endpoints ---

type swapRequest struct {
	InputToken  string `json:"inputToken"`
	OutputToken string `json:"outputToken"`
	Amount      uint64 `json:"amount"` // smallest indivisible units of the input asset
	Slippage    int    `json:"slippage"`
}

func swapErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidSwapParameters),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrSlippageExceeded):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *SwapService) GetSwapQuoteEndpoint(c *fiber.Ctx) error {
	if _, ok := userIDFromCtx(c); !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var body swapRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if body.InputToken == "" || body.OutputToken == "" || body.Amount == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "inputToken, outputToken and amount are required"})
	}

	quote, err := s.GetSwapQuote(c.Context(), body.InputToken, body.OutputToken, body.Amount, body.Slippage)
	if err != nil {
		log.Printf("❌ Error getting swap quote: %v", err)
		return c.Status(swapErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"inputAmount":    quote.InputAmount,
		"outputAmount":   quote.OutputAmount,
		"priceImpactPct": quote.PriceImpactPct,
		"routePlan":      quote.RoutePlan,
	})
}

func (s *SwapService) ExecuteSwapEndpoint(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var body swapRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "details": err.Error()})
	}
	if body.InputToken == "" || body.OutputToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "inputToken and outputToken are required"})
	}

	result, err := s.ExecuteSwap(c.Context(), userID, body.InputToken, body.OutputToken, body.Amount, body.Slippage)
	if err != nil {
		log.Printf("❌ Error executing swap: %v", err)
		return c.Status(swapErrorStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}
