package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"custodial-wallet-service/utils"

	"github.com/gofiber/fiber/v2"

	"encoding/json"
)

const (
	defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	priceCacheTTL           = 60 * time.Second
)

// CoinGecko coin IDs for the known Solana tokens.
var coinGeckoIDs = map[string]string{
	"SOL":      "solana",
	"USDC":     "usd-coin",
	"USDT":     "tether",
	"BONK":     "bonk",
	"WIF":      "dogwifcoin",
	"JUP":      "jupiter-exchange-solana",
	"FARTCOIN": "fartcoin",
}

// TokenPrice is current USD pricing for one token.
type TokenPrice struct {
	Symbol                   string  `json:"symbol"`
	Price                    float64 `json:"price"`
	PriceChange24h           float64 `json:"priceChange24h"`
	PriceChangePercentage24h float64 `json:"priceChangePercentage24h"`
}

// PortfolioMetrics aggregates holdings into totals.
type PortfolioMetrics struct {
	TotalValue               float64 `json:"totalValue"`
	TotalChange24h           float64 `json:"totalChange24h"`
	TotalChangePercentage24h float64 `json:"totalChangePercentage24h"`
	LastUpdated              string  `json:"lastUpdated"`
}

// PortfolioToken is one holding with its valuation.
type PortfolioToken struct {
	Symbol              string  `json:"symbol"`
	Balance             float64 `json:"balance"`
	Price               float64 `json:"price"`
	Value               float64 `json:"value"`
	Change24h           float64 `json:"change24h"`
	ChangePercentage24h float64 `json:"changePercentage24h"`
}

type PriceService struct {
	Wallets *WalletService

	BaseURL string
	APIKey  string // CoinGecko demo key, optional
	HTTP    *http.Client

	cache *utils.Cache[TokenPrice]
}

func NewPriceService(wallets *WalletService, baseURL, apiKey string, client *http.Client) *PriceService {
	if baseURL == "" {
		baseURL = defaultCoinGeckoBaseURL
	}
	return &PriceService{
		Wallets: wallets,
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    client,
		cache:   utils.NewCache[TokenPrice](priceCacheTTL),
	}
}

type geckoSimplePrice map[string]struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
}

func (p *PriceService) fetchSimplePrice(ctx context.Context, ids []string) (geckoSimplePrice, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	req, err := http.NewRequestWithContext(ctx, "GET", p.BaseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", p.APIKey)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling coingecko: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var data geckoSimplePrice
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding coingecko response: %w", err)
	}
	return data, nil
}

// GetTokenPrice returns USD pricing for one symbol, served from the 60s cache
// when fresh. Unknown symbols (no CoinGecko mapping) return nil, not an error.
func (p *PriceService) GetTokenPrice(ctx context.Context, symbol string) (*TokenPrice, error) {
	key := strings.ToUpper(symbol)
	if cached, ok := p.cache.Get(key); ok {
		return &cached, nil
	}

	id, ok := coinGeckoIDs[key]
	if !ok {
		log.Printf("⚠️ No CoinGecko ID mapping for token: %s", symbol)
		return nil, nil
	}

	data, err := p.fetchSimplePrice(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	entry, ok := data[id]
	if !ok {
		return nil, nil
	}

	price := TokenPrice{
		Symbol:                   key,
		Price:                    entry.USD,
		PriceChange24h:           entry.USD24hChange,
		PriceChangePercentage24h: entry.USD24hChange,
	}
	p.cache.Set(key, price)
	return &price, nil
}

// GetMultipleTokenPrices batches the uncached symbols into one request.
// Symbols that cannot be priced are simply absent from the result.
func (p *PriceService) GetMultipleTokenPrices(ctx context.Context, symbols []string) map[string]TokenPrice {
	results := map[string]TokenPrice{}
	var uncached []string

	for _, symbol := range symbols {
		key := strings.ToUpper(symbol)
		if cached, ok := p.cache.Get(key); ok {
			results[key] = cached
		} else {
			uncached = append(uncached, key)
		}
	}

	if len(uncached) == 0 {
		return results
	}

	var ids []string
	for _, symbol := range uncached {
		if id, ok := coinGeckoIDs[symbol]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return results
	}

	data, err := p.fetchSimplePrice(ctx, ids)
	if err != nil {
		log.Printf("❌ Error fetching multiple token prices: %v", err)
		return results
	}

	for _, symbol := range uncached {
		id, ok := coinGeckoIDs[symbol]
		if !ok {
			continue
		}
		entry, ok := data[id]
		if !ok {
			continue
		}
		price := TokenPrice{
			Symbol:                   symbol,
			Price:                    entry.USD,
			PriceChange24h:           entry.USD24hChange,
			PriceChangePercentage24h: entry.USD24hChange,
		}
		results[symbol] = price
		p.cache.Set(symbol, price)
	}

	return results
}

// CalculatePortfolioMetrics values balances against prices. Pure function.
func CalculatePortfolioMetrics(balances map[string]float64, prices map[string]TokenPrice) PortfolioMetrics {
	var totalValue, totalChange24h float64

	for symbol, balance := range balances {
		if balance <= 0 {
			continue
		}
		price, ok := prices[strings.ToUpper(symbol)]
		if !ok {
			continue
		}
		currentValue := balance * price.Price
		previousValue := balance * (price.Price - price.PriceChange24h)
		totalValue += currentValue
		totalChange24h += currentValue - previousValue
	}

	var pct float64
	if totalValue > 0 && totalChange24h != 0 {
		pct = (totalChange24h / (totalValue - totalChange24h)) * 100
	}

	return PortfolioMetrics{
		TotalValue:               totalValue,
		TotalChange24h:           totalChange24h,
		TotalChangePercentage24h: pct,
		LastUpdated:              time.Now().UTC().Format(time.RFC3339),
	}
}

// GetPortfolioData joins a user's balances with live prices into the
// dashboard payload, holdings sorted by value descending.
func (p *PriceService) GetPortfolioData(ctx context.Context, balances map[string]float64) (map[string]any, error) {
	var withBalance []string
	for symbol, balance := range balances {
		if balance > 0 {
			withBalance = append(withBalance, symbol)
		}
	}

	prices := p.GetMultipleTokenPrices(ctx, withBalance)
	metrics := CalculatePortfolioMetrics(balances, prices)

	tokens := make([]PortfolioToken, 0, len(withBalance))
	for symbol, balance := range balances {
		if balance <= 0 {
			continue
		}
		key := strings.ToUpper(symbol)
		price := prices[key]
		tokens = append(tokens, PortfolioToken{
			Symbol:              key,
			Balance:             balance,
			Price:               price.Price,
			Value:               balance * price.Price,
			Change24h:           price.PriceChange24h * balance,
			ChangePercentage24h: price.PriceChangePercentage24h,
		})
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Value > tokens[j].Value })

	return map[string]any{
		"balances": balances,
		"prices":   prices,
		"metrics":  metrics,
		"tokens":   tokens,
	}, nil
}

// --- Fiber endpoints ---

func (p *PriceService) GetTokenPriceEndpoint(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Token symbol is required"})
	}

	price, err := p.GetTokenPrice(c.Context(), symbol)
	if err != nil {
		log.Printf("❌ Error fetching price for %s: %v", symbol, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	if price == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Could not fetch price for " + symbol})
	}
	return c.JSON(price)
}

// GetPortfolioEndpoint renders the authenticated user's full portfolio.
func (p *PriceService) GetPortfolioEndpoint(c *fiber.Ctx) error {
	userID, ok := userIDFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	symbols := make([]string, 0, len(Tokens))
	for sym := range Tokens {
		symbols = append(symbols, sym)
	}
	balances, err := p.Wallets.GetMultipleTokenBalances(c.Context(), userID, symbols)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}

	portfolio, err := p.GetPortfolioData(c.Context(), balances)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(portfolio)
}
