package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmacey/delta-roller/internal/orders"
)

const testToken = "test-access-token"

// newTestAPIWithServer wires a client to a local server that answers the
// token exchange itself and delegates everything else to handler.
func newTestAPIWithServer(t *testing.T, handler http.HandlerFunc) (*AmeritradeAPI, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("token method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Fatalf("grant_type = %q, want refresh_token", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-tok" {
			t.Fatalf("refresh_token = %q, want refresh-tok", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": testToken,
			"expires_in":   1800,
		})
	})
	mux.HandleFunc("/", handler)

	s := httptest.NewServer(mux)
	api := NewAmeritradeAPIWithBaseURL(Credentials{
		ClientID:     "client-id",
		AccountID:    "ACC123",
		RefreshToken: "refresh-tok",
	}, s.URL)
	api = api.WithHTTPClient(s.Client())
	return api, s
}

func TestPositions(t *testing.T) {
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/ACC123" {
			t.Fatalf("path = %s, want /accounts/ACC123", r.URL.Path)
		}
		if got := r.URL.Query().Get("fields"); got != "positions" {
			t.Fatalf("fields = %q, want positions", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			t.Fatalf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"securitiesAccount": {
				"accountId": "ACC123",
				"positions": [{
					"instrument": {"assetType": "OPTION", "symbol": "FAS_040320C28", "putCall": "CALL"},
					"longQuantity": 10,
					"shortQuantity": 0,
					"marketValue": 6500
				}]
			}
		}`))
	})
	defer srv.Close()

	positions, err := api.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
	if positions[0].Instrument.Symbol != "FAS_040320C28" {
		t.Fatalf("symbol = %q", positions[0].Instrument.Symbol)
	}
	if positions[0].LongQuantity != 10 {
		t.Fatalf("longQuantity = %v, want 10", positions[0].LongQuantity)
	}
}

func TestOrders(t *testing.T) {
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/ACC123/orders" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{
			"orderId": 42,
			"status": "QUEUED",
			"orderLegCollection": [{
				"orderLegType": "OPTION",
				"instrument": {"assetType": "OPTION", "symbol": "FAS_040320C28"}
			}]
		}]`))
	})
	defer srv.Close()

	result, err := api.Orders(context.Background())
	if err != nil {
		t.Fatalf("Orders error: %v", err)
	}
	if len(result) != 1 || result[0].OrderID != 42 || result[0].Status != "QUEUED" {
		t.Fatalf("orders = %+v", result)
	}
}

func TestQuote(t *testing.T) {
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/marketdata/FAS_040320C28/quotes" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"FAS_040320C28": {"symbol": "FAS_040320C28", "delta": 0.91, "ask": 6.6}
		}`))
	})
	defer srv.Close()

	quotes, err := api.Quote(context.Background(), "FAS_040320C28")
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	q, ok := quotes["FAS_040320C28"]
	if !ok {
		t.Fatalf("quote missing, got %+v", quotes)
	}
	if q.Delta != 0.91 {
		t.Fatalf("delta = %v, want 0.91", q.Delta)
	}
}

func TestQuote_EmptyResponse(t *testing.T) {
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	if _, err := api.Quote(context.Background(), "FAS_040320C28"); err == nil {
		t.Fatal("expected error for empty quote response")
	}
}

func TestOptionChains(t *testing.T) {
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "FAS" || q.Get("contractType") != "CALL" {
			t.Fatalf("query = %v", q)
		}
		if q.Get("strikeCount") != "20" {
			t.Fatalf("strikeCount = %q", q.Get("strikeCount"))
		}
		if q.Get("fromDate") != "2020-04-03" || q.Get("toDate") != "2020-04-03" {
			t.Fatalf("date window = %q..%q", q.Get("fromDate"), q.Get("toDate"))
		}
		_, _ = w.Write([]byte(`{
			"symbol": "FAS",
			"status": "SUCCESS",
			"callExpDateMap": {
				"2020-04-03:7": {
					"28.0": [{"symbol": "FAS_040320C28", "delta": 0.55, "ask": 1.5, "openInterest": 12}]
				}
			}
		}`))
	})
	defer srv.Close()

	chain, err := api.OptionChains(context.Background(), ChainRequest{
		Symbol:       "FAS",
		ContractType: "CALL",
		StrikeCount:  20,
		FromDate:     "2020-04-03",
		ToDate:       "2020-04-03",
	})
	if err != nil {
		t.Fatalf("OptionChains error: %v", err)
	}
	if chain.IsEmpty() {
		t.Fatal("chain unexpectedly empty")
	}
	contracts := chain.CallExpDateMap["2020-04-03:7"]["28.0"]
	if len(contracts) != 1 || contracts[0].Delta != 0.55 {
		t.Fatalf("contracts = %+v", contracts)
	}
}

func TestPlaceCustomOrder(t *testing.T) {
	var received map[string]interface{}
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/accounts/ACC123/orders" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decoding order body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	defer srv.Close()

	order := orders.NewCloseOrder("FAS_040320P24", 10, 0.04)
	if err := api.PlaceCustomOrder(context.Background(), order); err != nil {
		t.Fatalf("PlaceCustomOrder error: %v", err)
	}
	if received["orderType"] != "LIMIT" {
		t.Fatalf("orderType = %v", received["orderType"])
	}
}

func TestAPIError(t *testing.T) {
	api, srv := newTestAPIWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "down for maintenance"}`))
	})
	defer srv.Close()

	_, err := api.Positions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "down for maintenance") {
		t.Fatalf("body = %q", apiErr.Body)
	}
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": testToken,
			"expires_in":   1800,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := NewAmeritradeAPIWithBaseURL(Credentials{
		ClientID: "client-id", AccountID: "ACC123", RefreshToken: "refresh-tok",
	}, srv.URL).WithHTTPClient(srv.Client())

	for i := 0; i < 3; i++ {
		if _, err := api.Orders(context.Background()); err != nil {
			t.Fatalf("Orders error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("token endpoint called %d times, want 1", calls)
	}
}

func TestTokenExchangeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := NewAmeritradeAPIWithBaseURL(Credentials{
		ClientID: "client-id", AccountID: "ACC123", RefreshToken: "stale",
	}, srv.URL).WithHTTPClient(srv.Client())

	_, err := api.Positions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d", apiErr.Status)
	}
}
