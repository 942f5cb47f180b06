package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"custodial-wallet-service/utils"

	"github.com/gofiber/fiber/v2"
)

const defaultBirdEyeBaseURL = "https://public-api.birdeye.so"

// BirdEyeService wraps the BirdEye activity/price API. All calls go through
// the rate-limited fetch layer — BirdEye enforces per-second quotas and
// returns retry-after on 429s.
type BirdEyeService struct {
	BaseURL string
	APIKey  string
	Fetch   *utils.RateLimitedClient
}

func NewBirdEyeService(baseURL, apiKey string, fetch *utils.RateLimitedClient) *BirdEyeService {
	if baseURL == "" {
		baseURL = defaultBirdEyeBaseURL
	}
	return &BirdEyeService{BaseURL: baseURL, APIKey: apiKey, Fetch: fetch}
}

func (b *BirdEyeService) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", b.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-chain", "solana")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.Fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("birdeye returned status %d", resp.StatusCode)
	}

	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding birdeye response: %w", err)
	}
	return out, nil
}

func (b *BirdEyeService) GetTrendingTokens(ctx context.Context, limit int) (json.RawMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("sort_by", "volume24hUSD")
	q.Set("sort_type", "asc")
	q.Set("offset", "0")
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("ui_amount_mode", "scaled")

	out, err := b.do(ctx, "GET", "/defi/token_trending?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching trending tokens: %w", err)
	}
	return out, nil
}

func (b *BirdEyeService) GetNewListings(ctx context.Context, limit int) (json.RawMessage, error) {
	if limit <= 0 {
		limit = 3
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("meme_platform_enabled", "true")

	out, err := b.do(ctx, "GET", "/defi/v2/tokens/new_listing?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching new listings: %w", err)
	}
	return out, nil
}

// GetHistoricalData returns price history for a token over a period (1D, 7D, 30D).
func (b *BirdEyeService) GetHistoricalData(ctx context.Context, address, period string) (json.RawMessage, error) {
	if period == "" {
		period = "7D"
	}
	q := url.Values{}
	q.Set("address", address)
	q.Set("address_type", "token")
	q.Set("type", period)

	out, err := b.do(ctx, "GET", "/defi/history_price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching historical data for %s: %w", address, err)
	}
	return out, nil
}

func (b *BirdEyeService) GetMultipleTokenData(ctx context.Context, addresses []string) (json.RawMessage, error) {
	out, err := b.do(ctx, "POST", "/defi/multi_price", map[string]any{"list_address": addresses})
	if err != nil {
		return nil, fmt.Errorf("fetching multiple token data: %w", err)
	}
	return out, nil
}

func (b *BirdEyeService) GetTokenMarketData(ctx context.Context, address string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("address", address)

	out, err := b.do(ctx, "GET", "/defi/v3/token/market-data?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching market data for %s: %w", address, err)
	}
	return out, nil
}

// --- Fiber endpoints ---

func (b *BirdEyeService) respond(c *fiber.Ctx, out json.RawMessage, err error) error {
	if err != nil {
		log.Printf("❌ BirdEye error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set("Content-Type", "application/json")
	return c.Send(out)
}

func (b *BirdEyeService) GetTrendingTokensEndpoint(c *fiber.Ctx) error {
	out, err := b.GetTrendingTokens(c.Context(), c.QueryInt("limit", 5))
	return b.respond(c, out, err)
}

func (b *BirdEyeService) GetNewListingsEndpoint(c *fiber.Ctx) error {
	out, err := b.GetNewListings(c.Context(), c.QueryInt("limit", 3))
	return b.respond(c, out, err)
}

func (b *BirdEyeService) GetHistoricalDataEndpoint(c *fiber.Ctx) error {
	out, err := b.GetHistoricalData(c.Context(), c.Params("address"), c.Query("type", "7D"))
	return b.respond(c, out, err)
}

func (b *BirdEyeService) GetMultiplePricesEndpoint(c *fiber.Ctx) error {
	var body struct {
		Addresses []string `json:"addresses"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.Addresses) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "addresses are required"})
	}
	out, err := b.GetMultipleTokenData(c.Context(), body.Addresses)
	return b.respond(c, out, err)
}

func (b *BirdEyeService) GetTokenMarketDataEndpoint(c *fiber.Ctx) error {
	out, err := b.GetTokenMarketData(c.Context(), c.Params("address"))
	return b.respond(c, out, err)
}
