package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tmacey/delta-roller/internal/orders"
)

const defaultBaseURL = "https://api.tdameritrade.com/v1"

// tokenExpirySlack refreshes the access token slightly before the server
// would reject it.
const tokenExpirySlack = 60 * time.Second

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Credentials carries the OAuth material for the TDA API. It is always
// passed in explicitly; this package never reads the environment.
type Credentials struct {
	ClientID     string
	AccountID    string
	RefreshToken string
}

// AmeritradeAPI is the HTTP client for the TD Ameritrade REST API.
type AmeritradeAPI struct {
	client  *http.Client
	creds   Credentials
	baseURL string
	timeout time.Duration

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Ensure AmeritradeAPI implements Broker at compile time.
var _ Broker = (*AmeritradeAPI)(nil)

// NewAmeritradeAPI creates a new TDA client with default settings.
func NewAmeritradeAPI(creds Credentials) *AmeritradeAPI {
	return NewAmeritradeAPIWithBaseURL(creds, "")
}

// NewAmeritradeAPIWithBaseURL creates a new TDA client with an optional
// custom base URL (tests point this at a local server).
func NewAmeritradeAPIWithBaseURL(creds Credentials, baseURL string) *AmeritradeAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	// Normalize once
	baseURL = strings.TrimRight(baseURL, "/")

	const defaultTimeout = 10 * time.Second
	return &AmeritradeAPI{
		client:  &http.Client{Timeout: defaultTimeout},
		creds:   creds,
		baseURL: baseURL,
		timeout: defaultTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (a *AmeritradeAPI) WithHTTPClient(c *http.Client) *AmeritradeAPI {
	if c != nil {
		a.client = c
	}
	return a
}

// WithTimeout sets the HTTP client timeout duration.
func (a *AmeritradeAPI) WithTimeout(timeout time.Duration) *AmeritradeAPI {
	a.timeout = timeout
	if a.client != nil {
		a.client.Timeout = timeout
	}
	return a
}

// tokenResponse is the OAuth token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ensureToken exchanges the refresh token for an access token, caching it
// until shortly before expiry.
func (a *AmeritradeAPI) ensureToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	params := url.Values{}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", a.creds.RefreshToken)
	params.Set("client_id", a.creds.ClientID)

	endpoint := a.baseURL + "/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("POST %s -> %s", endpoint, string(body))}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("token refresh: decoding response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token refresh: empty access token in response")
	}

	a.accessToken = token.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenExpirySlack)
	return a.accessToken, nil
}

// securitiesAccountResponse wraps the positions list TDA nests under the
// account payload.
type securitiesAccountResponse struct {
	SecuritiesAccount struct {
		AccountID string     `json:"accountId"`
		Positions []Position `json:"positions"`
	} `json:"securitiesAccount"`
}

// Positions retrieves the account's open positions.
func (a *AmeritradeAPI) Positions(ctx context.Context) ([]Position, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s?fields=positions", a.baseURL, a.creds.AccountID)

	var response securitiesAccountResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.SecuritiesAccount.Positions, nil
}

// Orders retrieves the account's orders.
func (a *AmeritradeAPI) Orders(ctx context.Context) ([]Order, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders", a.baseURL, a.creds.AccountID)

	var response []Order
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// Quote retrieves quotes for a symbol, keyed by contract symbol. A contract
// accumulated over multiple lots can come back as multiple entries.
func (a *AmeritradeAPI) Quote(ctx context.Context, symbol string) (map[string]Contract, error) {
	endpoint := fmt.Sprintf("%s/marketdata/%s/quotes", a.baseURL, url.PathEscape(symbol))

	var response map[string]Contract
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	if len(response) == 0 {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}
	return response, nil
}

// OptionChains retrieves the option chain for an underlying.
func (a *AmeritradeAPI) OptionChains(ctx context.Context, req ChainRequest) (*ChainResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	if req.ContractType != "" {
		params.Set("contractType", req.ContractType)
	}
	if req.StrikeCount > 0 {
		params.Set("strikeCount", fmt.Sprintf("%d", req.StrikeCount))
	}
	if req.FromDate != "" {
		params.Set("fromDate", req.FromDate)
	}
	if req.ToDate != "" {
		params.Set("toDate", req.ToDate)
	}
	params.Set("includeQuotes", "TRUE")
	endpoint := a.baseURL + "/marketdata/chains?" + params.Encode()

	var response ChainResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// PlaceCustomOrder submits a built order payload to the account's order
// endpoint. TDA answers 201 with an empty body on success.
func (a *AmeritradeAPI) PlaceCustomOrder(ctx context.Context, order orders.Request) error {
	endpoint := fmt.Sprintf("%s/accounts/%s/orders", a.baseURL, a.creds.AccountID)

	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encoding order payload: %w", err)
	}
	return a.makeJSONRequestCtx(ctx, http.MethodPost, endpoint, body, nil)
}

// makeRequestCtx makes a form/query HTTP request with bearer auth.
func (a *AmeritradeAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	return a.doRequest(ctx, req, response)
}

// makeJSONRequestCtx makes a JSON-body HTTP request with bearer auth.
func (a *AmeritradeAPI) makeJSONRequestCtx(ctx context.Context, method, endpoint string,
	body []byte, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	return a.doRequest(ctx, req, response)
}

func (a *AmeritradeAPI) doRequest(ctx context.Context, req *http.Request, response interface{}) error {
	token, err := a.ensureToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "delta-roller/1.0 (+tdameritrade)")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
	default:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode,
				Body: fmt.Sprintf("%s %s -> failed to read error body", req.Method, req.URL)}
		}
		return &APIError{Status: resp.StatusCode,
			Body: fmt.Sprintf("%s %s -> %s", req.Method, req.URL, string(body))}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusCreated {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		// Log error but don't fail the operation
		log.Printf("Failed to close response body: %v", err)
	}
}
