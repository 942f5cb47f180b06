package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"custodial-wallet-service/utils"

	"github.com/gofiber/fiber/v2"
)

const marketDataCacheTTL = 10 * time.Minute

// TokenPriceData is keyed by token contract address.
type TokenPriceData map[string]TokenMarketQuote

type TokenMarketQuote struct {
	USD          float64 `json:"usd"`
	USDMarketCap float64 `json:"usd_market_cap"`
	USD24hVol    float64 `json:"usd_24h_vol"`
	USD24hChange float64 `json:"usd_24h_change"`
	LastUpdated  int64   `json:"last_updated_at"`
}

type TrendingToken struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Thumb         string `json:"thumb"`
	MarketCapRank int    `json:"market_cap_rank"`
}

type TopGainer struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	MarketCapRank            int     `json:"market_cap_rank"`
	PriceChange24h           float64 `json:"price_change_24h"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	LastUpdated              string  `json:"last_updated"`
}

// commonTokenAddresses is the default set for the prices endpoint.
var commonTokenAddresses = []string{
	Tokens["SOL"],
	Tokens["USDC"],
	Tokens["USDT"],
	Tokens["BONK"],
	Tokens["JUP"],
}

// MarketDataService serves CoinGecko market data through the rate-limited
// fetch layer, with aggressive caching to stay inside the demo-tier quota.
type MarketDataService struct {
	BaseURL string
	APIKey  string
	Fetch   *utils.RateLimitedClient

	priceCache    *utils.Cache[TokenPriceData]
	trendingCache *utils.Cache[[]TrendingToken]
	gainersCache  *utils.Cache[[]TopGainer]
}

func NewMarketDataService(baseURL, apiKey string, fetch *utils.RateLimitedClient) *MarketDataService {
	if baseURL == "" {
		baseURL = defaultCoinGeckoBaseURL
	}
	return &MarketDataService{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		Fetch:         fetch,
		priceCache:    utils.NewCache[TokenPriceData](marketDataCacheTTL),
		trendingCache: utils.NewCache[[]TrendingToken](marketDataCacheTTL),
		gainersCache:  utils.NewCache[[]TopGainer](marketDataCacheTTL),
	}
}

func (m *MarketDataService) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", m.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if m.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", m.APIKey)
	}

	resp, err := m.Fetch.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetTokenPriceData prices tokens by contract address. Addresses that fail
// are skipped, not fatal — partial data beats no data.
func (m *MarketDataService) GetTokenPriceData(ctx context.Context, addresses []string) (TokenPriceData, error) {
	sorted := append([]string(nil), addresses...)
	sort.Strings(sorted)
	cacheKey := "token_prices_" + strings.Join(sorted, "_")
	if cached, ok := m.priceCache.Get(cacheKey); ok {
		return cached, nil
	}

	results := TokenPriceData{}
	for _, address := range addresses {
		q := url.Values{}
		q.Set("contract_addresses", address)
		q.Set("vs_currencies", "usd")
		q.Set("include_market_cap", "true")
		q.Set("include_24hr_vol", "true")
		q.Set("include_24hr_change", "true")
		q.Set("include_last_updated_at", "true")

		var data TokenPriceData
		if err := m.get(ctx, "/simple/token_price/solana?"+q.Encode(), &data); err != nil {
			log.Printf("⚠️ Failed to fetch price for token %s: %v", address, err)
			continue
		}
		for k, v := range data {
			results[k] = v
		}
	}

	m.priceCache.Set(cacheKey, results)
	return results, nil
}

func (m *MarketDataService) GetCommonTokenPrices(ctx context.Context) (TokenPriceData, error) {
	return m.GetTokenPriceData(ctx, commonTokenAddresses)
}

func (m *MarketDataService) GetTrendingTokens(ctx context.Context) ([]TrendingToken, error) {
	if cached, ok := m.trendingCache.Get("trending_tokens"); ok {
		return cached, nil
	}

	var data struct {
		Coins []struct {
			Item TrendingToken `json:"item"`
		} `json:"coins"`
	}
	if err := m.get(ctx, "/search/trending", &data); err != nil {
		return nil, fmt.Errorf("fetching trending tokens: %w", err)
	}

	result := make([]TrendingToken, 0, len(data.Coins))
	for _, coin := range data.Coins {
		result = append(result, coin.Item)
	}
	m.trendingCache.Set("trending_tokens", result)
	return result, nil
}

// GetTopGainers uses the demo-tier markets endpoint ordered by 24h change.
func (m *MarketDataService) GetTopGainers(ctx context.Context, limit int) ([]TopGainer, error) {
	if limit <= 0 {
		limit = 10
	}
	cacheKey := fmt.Sprintf("top_gainers_%d", limit)
	if cached, ok := m.gainersCache.Get(cacheKey); ok {
		return cached, nil
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "price_change_percentage_24h_desc")
	q.Set("per_page", fmt.Sprintf("%d", limit))
	q.Set("page", "1")
	q.Set("sparkline", "false")

	var gainers []TopGainer
	if err := m.get(ctx, "/coins/markets?"+q.Encode(), &gainers); err != nil {
		return nil, fmt.Errorf("fetching top gainers: %w", err)
	}

	m.gainersCache.Set(cacheKey, gainers)
	return gainers, nil
}

// GetMarketOverview bundles trending and gainers for the dashboard.
func (m *MarketDataService) GetMarketOverview(ctx context.Context) (map[string]any, error) {
	trending, err := m.GetTrendingTokens(ctx)
	if err != nil {
		return nil, err
	}
	gainers, err := m.GetTopGainers(ctx, 5)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"trendingTokens": trending,
		"topGainers":     gainers,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// --- Fiber endpoints ---

func (m *MarketDataService) GetPricesEndpoint(c *fiber.Ctx) error {
	tokens := c.Query("tokens")

	var (
		data TokenPriceData
		err  error
	)
	if tokens != "" {
		data, err = m.GetTokenPriceData(c.Context(), strings.Split(tokens, ","))
	} else {
		data, err = m.GetCommonTokenPrices(c.Context())
	}
	if err != nil {
		log.Printf("❌ Error getting token prices: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch token prices"})
	}
	return c.JSON(fiber.Map{"data": data})
}

func (m *MarketDataService) GetTrendingTokensEndpoint(c *fiber.Ctx) error {
	trending, err := m.GetTrendingTokens(c.Context())
	if err != nil {
		log.Printf("❌ Error getting trending tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch trending tokens"})
	}
	return c.JSON(fiber.Map{"data": trending})
}

func (m *MarketDataService) GetTopGainersEndpoint(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	gainers, err := m.GetTopGainers(c.Context(), limit)
	if err != nil {
		log.Printf("❌ Error getting top gainers: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch top gainers"})
	}
	return c.JSON(fiber.Map{"data": gainers})
}

func (m *MarketDataService) GetMarketOverviewEndpoint(c *fiber.Ctx) error {
	overview, err := m.GetMarketOverview(c.Context())
	if err != nil {
		log.Printf("❌ Error getting market overview: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch market overview"})
	}
	return c.JSON(fiber.Map{"data": overview})
}
