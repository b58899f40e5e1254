package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"services/trading-simulation-service/internal/model"

	"go.uber.org/zap"
)

func TestGetDailySeries(t *testing.T) {
	candles := []model.Candle{
		{Date: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), Open: 100, High: 102, Low: 99, Close: 101, Volume: 5000},
		{Date: time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), Open: 101, High: 104, Low: 100, Close: 103, Volume: 6000},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/service/market-data/daily" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Service-Key") != "test-key" {
			t.Errorf("service key = %q", r.Header.Get("X-Service-Key"))
		}
		q := r.URL.Query()
		if q.Get("symbol") != "AAPL" || q.Get("market") != "us" || q.Get("count") != "100" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"candles": candles})
	}))
	defer server.Close()

	client := NewMarketDataClient(MarketDataClientOptions{
		BaseURL:    server.URL,
		ServiceKey: "test-key",
	}, zap.NewNop())

	got, err := client.GetDailySeries(context.Background(), "AAPL", "us", 100)
	if err != nil {
		t.Fatalf("GetDailySeries failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candles = %d, want 2", len(got))
	}
	if got[0].Close != 101 || got[1].Close != 103 {
		t.Errorf("closes = %v, %v", got[0].Close, got[1].Close)
	}
}

func TestGetDailySeriesRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"candles": []model.Candle{
			{Date: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), Close: 100},
		}})
	}))
	defer server.Close()

	client := NewMarketDataClient(MarketDataClientOptions{
		BaseURL:    server.URL,
		MaxRetries: 5,
	}, zap.NewNop())

	got, err := client.GetDailySeries(context.Background(), "AAPL", "us", 100)
	if err != nil {
		t.Fatalf("GetDailySeries failed after retries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candles = %d, want 1", len(got))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestGetDailySeriesExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewMarketDataClient(MarketDataClientOptions{
		BaseURL:    server.URL,
		MaxRetries: 1,
	}, zap.NewNop())

	if _, err := client.GetDailySeries(context.Background(), "AAPL", "us", 100); err == nil {
		t.Error("expected error after exhausting retries")
	}
}
