package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custodial-wallet-service/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBirdEyeTestService(t *testing.T, handler http.Handler) *BirdEyeService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fetch := utils.NewRateLimitedClient(0, 1, time.Millisecond)
	fetch.Client = srv.Client()
	return NewBirdEyeService(srv.URL, "be-key", fetch)
}

func TestBirdEye_GetTrendingTokens(t *testing.T) {
	svc := newBirdEyeTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/defi/token_trending", r.URL.Path)
		assert.Equal(t, "be-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "solana", r.Header.Get("x-chain"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"success":true,"data":{"tokens":[]}}`))
	}))

	out, err := svc.GetTrendingTokens(context.Background(), 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"tokens":[]}}`, string(out))
}

func TestBirdEye_GetMultipleTokenData(t *testing.T) {
	svc := newBirdEyeTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/defi/multi_price", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var payload map[string][]string
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, []string{Tokens["SOL"], Tokens["USDC"]}, payload["list_address"])

		w.Write([]byte(`{"success":true}`))
	}))

	out, err := svc.GetMultipleTokenData(context.Background(), []string{Tokens["SOL"], Tokens["USDC"]})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(out))
}

func TestBirdEye_GetHistoricalData_DefaultPeriod(t *testing.T) {
	svc := newBirdEyeTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/defi/history_price", r.URL.Path)
		assert.Equal(t, "7D", r.URL.Query().Get("type"))
		assert.Equal(t, Tokens["SOL"], r.URL.Query().Get("address"))
		w.Write([]byte(`{"data":{"items":[]}}`))
	}))

	_, err := svc.GetHistoricalData(context.Background(), Tokens["SOL"], "")
	require.NoError(t, err)
}

func TestBirdEye_UpstreamError(t *testing.T) {
	svc := newBirdEyeTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := svc.GetTokenMarketData(context.Background(), Tokens["SOL"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
