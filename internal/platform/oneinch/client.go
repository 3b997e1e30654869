// Package oneinch is a small REST client for the 1inch token and
// liquidity-source endpoints used to enrich asset and venue metadata.
package oneinch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// TokenInfo is the metadata 1inch returns for a token address.
type TokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

// LiquiditySource is one DEX protocol 1inch routes through.
type LiquiditySource struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Img   string `json:"img,omitempty"`
}

type liquiditySourcesResponse struct {
	Protocols []LiquiditySource `json:"protocols"`
}

// Client talks to the 1inch API.
type Client struct {
	baseURL    string
	chainID    int
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for chainID. apiKey is sent as a bearer token
// when non-empty.
func NewClient(baseURL string, chainID int, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		chainID: chainID,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetToken returns metadata for a token address.
func (c *Client) GetToken(ctx context.Context, address string) (TokenInfo, error) {
	path := "/" + strconv.Itoa(c.chainID) + "/token/" + url.PathEscape(address)

	body, err := c.doGet(ctx, path)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("oneinch: get token %s: %w", address, err)
	}

	var info TokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return TokenInfo{}, fmt.Errorf("oneinch: decode token: %w", err)
	}
	if info.Address == "" {
		info.Address = address
	}
	return info, nil
}

// GetLiquiditySources lists the DEX protocols available on the chain.
func (c *Client) GetLiquiditySources(ctx context.Context) ([]LiquiditySource, error) {
	path := "/" + strconv.Itoa(c.chainID) + "/liquidity-sources"

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("oneinch: get liquidity sources: %w", err)
	}

	var resp liquiditySourcesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("oneinch: decode liquidity sources: %w", err)
	}
	return resp.Protocols, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
