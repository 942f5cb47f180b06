package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custodial-wallet-service/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMarketTestService(t *testing.T, handler http.Handler) (*MarketDataService, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	fetch := utils.NewRateLimitedClient(0, 1, time.Millisecond)
	fetch.Client = srv.Client()
	return NewMarketDataService(srv.URL, "test-key", fetch), &calls
}

func TestGetTokenPriceData(t *testing.T) {
	svc, calls := newMarketTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("contract_addresses")
		fmt.Fprintf(w, `{%q:{"usd":1.5,"usd_market_cap":1000,"usd_24h_vol":50,"usd_24h_change":-2,"last_updated_at":1700000000}}`, addr)
	}))

	addresses := []string{Tokens["USDC"], Tokens["BONK"]}
	data, err := svc.GetTokenPriceData(context.Background(), addresses)
	require.NoError(t, err)

	assert.Equal(t, 2, *calls, "one request per contract address")
	require.Len(t, data, 2)
	assert.Equal(t, 1.5, data[Tokens["USDC"]].USD)
	assert.Equal(t, -2.0, data[Tokens["USDC"]].USD24hChange)

	// A second identical request is served from the 10-minute cache
	_, err = svc.GetTokenPriceData(context.Background(), addresses)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestGetTokenPriceData_SkipsFailures(t *testing.T) {
	svc, _ := newMarketTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("contract_addresses")
		if addr == Tokens["BONK"] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{%q:{"usd":1}}`, addr)
	}))

	data, err := svc.GetTokenPriceData(context.Background(), []string{Tokens["USDC"], Tokens["BONK"]})
	require.NoError(t, err, "per-address failures are skipped, not fatal")

	assert.Len(t, data, 1)
	_, ok := data[Tokens["BONK"]]
	assert.False(t, ok)
}

func TestGetTrendingTokens(t *testing.T) {
	svc, calls := newMarketTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/trending", r.URL.Path)
		w.Write([]byte(`{"coins":[{"item":{"id":"bonk","name":"Bonk","symbol":"BONK","market_cap_rank":60}}]}`))
	}))

	trending, err := svc.GetTrendingTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, trending, 1)
	assert.Equal(t, "bonk", trending[0].ID)
	assert.Equal(t, 60, trending[0].MarketCapRank)

	_, err = svc.GetTrendingTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *calls, "trending list is cached")
}

func TestGetTopGainers(t *testing.T) {
	svc, _ := newMarketTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "price_change_percentage_24h_desc", r.URL.Query().Get("order"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		w.Write([]byte(`[{"id":"wif","symbol":"wif","current_price":2.5,"price_change_percentage_24h":40}]`))
	}))

	gainers, err := svc.GetTopGainers(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, gainers, 1)
	assert.Equal(t, "wif", gainers[0].ID)
	assert.Equal(t, 40.0, gainers[0].PriceChangePercentage24h)
}

func TestGetMarketOverview(t *testing.T) {
	svc, _ := newMarketTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/trending":
			w.Write([]byte(`{"coins":[{"item":{"id":"bonk"}}]}`))
		case "/coins/markets":
			w.Write([]byte(`[{"id":"wif"}]`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	overview, err := svc.GetMarketOverview(context.Background())
	require.NoError(t, err)

	assert.Len(t, overview["trendingTokens"], 1)
	assert.Len(t, overview["topGainers"], 1)
	assert.NotEmpty(t, overview["timestamp"])
}
