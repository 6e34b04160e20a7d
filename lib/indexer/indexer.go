// Package indexer implements the HTTPS client for the external portfolio/transaction indexer (component C1):
// Basic-authenticated reads with a TTL cache and bounded retries.
package indexer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tarancss/core/lib/cache"
	"github.com/tarancss/core/lib/errs"
)

const (
	defaultTimeout   = 10 * time.Second
	maxAttempts      = 3
	portfolioTTL     = 30 * time.Second
	transactionsTTL  = 60 * time.Second
	initialBackoff   = 200 * time.Millisecond
)

// TokenBalance is one entry of a wallet's portfolio, per §6. Implementation is the token contract address;
// empty denotes the chain's native asset. ChainID is only populated on an any-chain response.
type TokenBalance struct {
	Implementation string `json:"implementation_address"`
	Symbol         string `json:"symbol"`
	Balance        string `json:"balance"`
	Decimals       uint8  `json:"decimals"`
	ChainID        string `json:"chain_id"`
}

// Transfer is one leg of a transaction that moved an asset, per §4.6's "first transfer" disambiguation rule.
type Transfer struct {
	TokenSymbol  string `json:"token_symbol"`
	TokenAddress string `json:"token_address"`
	To           string `json:"to"`
}

// Transaction is one entry of a wallet's transaction history, per §6. ChainID is only populated on an any-chain
// response. RawStatus and BlockConfirmations feed the status-derivation rule of §4.6.
type Transaction struct {
	Hash               string     `json:"hash"`
	From               string     `json:"from"`
	Value              string     `json:"value"`
	BlockNumber        int64      `json:"block_number"`
	RawStatus          string     `json:"status"`
	BlockConfirmations int64      `json:"block_confirmations"`
	Timestamp          int64      `json:"mined_at"`
	ChainID            string     `json:"chain_id"`
	Transfers          []Transfer `json:"transfers"`
}

type portfolioResp struct {
	Data []TokenBalance `json:"data"`
}

type transactionsResp struct {
	Data []Transaction `json:"data"`
}

type addrChainKey struct {
	address string
	chain   string
}

// Client is the HTTPS indexer client, per §6.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client

	portfolioCache    *cache.TTL[addrChainKey, []TokenBalance]
	transactionsCache *cache.TTL[addrChainKey, []Transaction]
}

// New returns an indexer Client. timeout defaults to 10s when zero.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:           baseURL,
		authHeader:        "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey+":")),
		httpClient:        &http.Client{Timeout: timeout},
		portfolioCache:    cache.New[addrChainKey, []TokenBalance](),
		transactionsCache: cache.New[addrChainKey, []Transaction](),
	}
}

// Portfolio returns chain's token balances for address, per GET /v1/wallets/{address}/portfolio?chain_ids={chain}.
func (c *Client) Portfolio(ctx context.Context, address, chain string) ([]TokenBalance, error) {
	key := addrChainKey{address: address, chain: chain}
	if v, ok := c.portfolioCache.Get(key); ok {
		return v, nil
	}

	path := fmt.Sprintf("/v1/wallets/%s/portfolio", url.PathEscape(address))

	var resp portfolioResp
	if err := c.getJSON(ctx, path, url.Values{"chain_ids": {chain}}, &resp); err != nil {
		return nil, err
	}

	c.portfolioCache.Set(key, resp.Data, portfolioTTL)

	return resp.Data, nil
}

// PortfolioAny returns token balances for address across every chain, omitting chain_ids per the any-chain
// variant of §6.
func (c *Client) PortfolioAny(ctx context.Context, address string) ([]TokenBalance, error) {
	key := addrChainKey{address: address, chain: ""}
	if v, ok := c.portfolioCache.Get(key); ok {
		return v, nil
	}

	path := fmt.Sprintf("/v1/wallets/%s/portfolio", url.PathEscape(address))

	var resp portfolioResp
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	c.portfolioCache.Set(key, resp.Data, portfolioTTL)

	return resp.Data, nil
}

// Transactions returns chain's transaction history for address, paginated by pageSize, per
// GET /v1/wallets/{address}/transactions/?chain_ids={chain}&page[size]={n}.
func (c *Client) Transactions(ctx context.Context, address, chain string, pageSize int) ([]Transaction, error) {
	key := addrChainKey{address: address, chain: chain}
	if v, ok := c.transactionsCache.Get(key); ok {
		return v, nil
	}

	path := fmt.Sprintf("/v1/wallets/%s/transactions/", url.PathEscape(address))
	q := url.Values{"chain_ids": {chain}, "page[size]": {strconv.Itoa(pageSize)}}

	var resp transactionsResp
	if err := c.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	c.transactionsCache.Set(key, resp.Data, transactionsTTL)

	return resp.Data, nil
}

// TransactionsAny returns transaction history for address across every chain, omitting chain_ids.
func (c *Client) TransactionsAny(ctx context.Context, address string, pageSize int) ([]Transaction, error) {
	key := addrChainKey{address: address, chain: ""}
	if v, ok := c.transactionsCache.Get(key); ok {
		return v, nil
	}

	path := fmt.Sprintf("/v1/wallets/%s/transactions/", url.PathEscape(address))
	q := url.Values{"page[size]": {strconv.Itoa(pageSize)}}

	var resp transactionsResp
	if err := c.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	c.transactionsCache.Set(key, resp.Data, transactionsTTL)

	return resp.Data, nil
}

// InvalidatePortfolio best-effort drops the cached portfolio for (address, chain) after a send mutation, per §4.6.
// It never fails.
func (c *Client) InvalidatePortfolio(address, chain string) {
	c.portfolioCache.Invalidate(addrChainKey{address: address, chain: chain})
}

// getJSON issues a GET request, making up to maxAttempts attempts in total on 5xx or network error with exponential
// backoff between attempts, and unmarshals the body into out. A 4xx response surfaces directly without retry, per §7.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	const op = "indexer.get"

	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	backoff := initialBackoff

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, err := c.doOnce(ctx, reqURL)
		if err == nil && status >= 200 && status < 300 {
			if jsonErr := json.Unmarshal(body, out); jsonErr != nil {
				return errs.NewInternal(op, jsonErr)
			}

			return nil
		}

		if err == nil && status >= 400 && status < 500 {
			return errs.NewInvalidArgument(op, fmt.Errorf("indexer returned %d: %s", status, body))
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("indexer returned %d: %s", status, body)
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return errs.NewTimeout(op, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	return errs.NewUnavailable(op, lastErr)
}

func (c *Client) doOnce(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}
