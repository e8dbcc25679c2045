package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	demoBaseURL = "https://demo-api.ig.com/gateway/deal"
	liveBaseURL = "https://api.ig.com/gateway/deal"
)

// IGClient talks to the IG dealing REST API. Endpoints are versioned per
// route via the Version header; the session token obtained by Login is
// attached to every subsequent request.
type IGClient struct {
	client   *http.Client
	apiKey   string
	username string
	password string
	baseURL  string
	timeout  time.Duration

	mu          sync.Mutex
	accountID   string
	accessToken string
}

// Ensure IGClient implements Client at compile time.
var _ Client = (*IGClient)(nil)

// NewIGClient creates an IG API client. demo selects the demo environment,
// which is where this tool normally runs.
func NewIGClient(apiKey, username, password string, demo bool) *IGClient {
	return NewIGClientWithBaseURL(apiKey, username, password, demo, "")
}

// NewIGClientWithBaseURL creates an IG API client against a custom base
// URL, used by tests to point at a local server.
func NewIGClientWithBaseURL(apiKey, username, password string, demo bool, baseURL string) *IGClient {
	if baseURL == "" {
		if demo {
			baseURL = demoBaseURL
		} else {
			baseURL = liveBaseURL
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	defaultTimeout := 10 * time.Second
	return &IGClient{
		client:   &http.Client{Timeout: defaultTimeout},
		apiKey:   apiKey,
		username: username,
		password: password,
		baseURL:  baseURL,
		timeout:  defaultTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *IGClient) WithHTTPClient(hc *http.Client) *IGClient {
	if hc != nil {
		c.client = hc
	}
	return c
}

// WithTimeout sets the HTTP client timeout duration.
func (c *IGClient) WithTimeout(timeout time.Duration) *IGClient {
	c.timeout = timeout
	if c.client != nil {
		c.client.Timeout = timeout
	}
	return c
}

// ============ API Response Structures ============

// loginRequest is the POST /session body.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse is the session v3 response. ExpiresIn arrives as a string
// of seconds, per the API.
type LoginResponse struct {
	AccountID  string `json:"accountId"`
	ClientID   string `json:"clientId"`
	OauthToken struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
		TokenType    string `json:"token_type"`
		ExpiresIn    string `json:"expires_in"`
	} `json:"oauthToken"`
}

// PositionsResponse is the GET /positions envelope.
type PositionsResponse struct {
	Positions []PositionRecord `json:"positions"`
}

// PositionRecord is one open position: the instrument's market block plus
// the dealing details.
type PositionRecord struct {
	Market   MarketData   `json:"market"`
	Position PositionData `json:"position"`
}

// MarketData is the market block embedded in a position.
type MarketData struct {
	Epic             string  `json:"epic"`
	InstrumentName   string  `json:"instrumentName"`
	InstrumentType   string  `json:"instrumentType"`
	Expiry           string  `json:"expiry"`
	Bid              float64 `json:"bid"`
	Offer            float64 `json:"offer"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	PercentageChange float64 `json:"percentageChange"`
	MarketStatus     string  `json:"marketStatus"`
}

// PositionData is the dealing block embedded in a position.
type PositionData struct {
	DealID         string  `json:"dealId"`
	Direction      string  `json:"direction"`
	DealSize       float64 `json:"dealSize"`
	ContractSize   float64 `json:"contractSize"`
	OpenLevel      float64 `json:"openLevel"`
	Currency       string  `json:"currency"`
	ControlledRisk bool    `json:"controlledRisk"`
	CreatedDate    string  `json:"createdDate"`
}

// MarketDetails is the GET /markets/{epic} response, reduced to the blocks
// the feed reads.
type MarketDetails struct {
	Instrument InstrumentData `json:"instrument"`
	Snapshot   PriceSnapshot  `json:"snapshot"`
}

// InstrumentData describes the instrument behind an epic. MarketID links
// an option to its underlying market.
type InstrumentData struct {
	Epic     string `json:"epic"`
	Name     string `json:"name"`
	MarketID string `json:"marketId"`
	Type     string `json:"type"`
	Expiry   string `json:"expiry"`
}

// PriceSnapshot is the live quote block of a market details response.
type PriceSnapshot struct {
	Bid            float64 `json:"bid"`
	Offer          float64 `json:"offer"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	MarketStatus   string  `json:"marketStatus"`
	UpdateTime     string  `json:"updateTime"`
	ScalingFactor  float64 `json:"scalingFactor"`
	DecimalsFactor float64 `json:"decimalPlacesFactor"`
}

// ============ Operations ============

// Login authenticates with the session v3 endpoint and stores the OAuth
// access token and account ID for subsequent requests.
func (c *IGClient) Login(ctx context.Context) error {
	var resp LoginResponse
	err := c.makeRequestCtx(ctx, http.MethodPost, "/session", "3", false,
		loginRequest{Identifier: c.username, Password: c.password}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Body)
		}
		return fmt.Errorf("login: %w", err)
	}
	if resp.OauthToken.AccessToken == "" {
		return fmt.Errorf("login: response carried no access token")
	}

	c.mu.Lock()
	c.accountID = resp.AccountID
	c.accessToken = resp.OauthToken.AccessToken
	c.mu.Unlock()
	return nil
}

// Authenticated reports whether a session token is held. It says nothing
// about whether the token is still valid server-side.
func (c *IGClient) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken != ""
}

// Positions fetches the account's open positions.
func (c *IGClient) Positions(ctx context.Context) ([]PositionRecord, error) {
	var resp PositionsResponse
	if err := c.makeRequestCtx(ctx, http.MethodGet, "/positions", "1", true, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	return resp.Positions, nil
}

// MarketDetails fetches instrument and snapshot data for one epic.
func (c *IGClient) MarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	var resp MarketDetails
	path := "/markets/" + url.PathEscape(epic)
	if err := c.makeRequestCtx(ctx, http.MethodGet, path, "3", true, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch market details for %s: %w", epic, err)
	}
	return &resp, nil
}

// makeRequestCtx makes an HTTP request with context support. version fills
// the IG Version header; authed requests require a prior Login and carry
// the bearer token and account ID.
func (c *IGClient) makeRequestCtx(ctx context.Context, method, path, version string,
	authed bool, body, response interface{}) error {
	var accountID, accessToken string
	if authed {
		c.mu.Lock()
		accountID, accessToken = c.accountID, c.accessToken
		c.mu.Unlock()
		if accessToken == "" {
			return ErrNotAuthenticated
		}
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("X-IG-API-KEY", c.apiKey)
	req.Header.Set("Version", version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", "greekwatch/1.0 (+ig)")
	if authed {
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("IG-ACCOUNT-ID", accountID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("Failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, path)}
		}
		apiErr := &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, path, string(raw))}
		if authed && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Body)
		}
		return apiErr
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
