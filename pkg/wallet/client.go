package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	polygonUSDC        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	polygonCTFExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	dataAPIBaseURL     = "https://data-api.polymarket.com"

	requestTimeout = 15 * time.Second
)

// erc20ABI covers the two read calls the client needs.
const erc20ABI = `[` +
	`{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},` +
	`{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// Client reads wallet state from the Polygon chain and the Data API.
type Client struct {
	rpcURL     string
	dataAPI    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Balances holds on-chain token balances in raw units.
type Balances struct {
	MATIC         *big.Int // wei
	USDC          *big.Int // 6-decimal units
	USDCAllowance *big.Int // 6-decimal units, CTF Exchange spender
}

// Position is one outcome-token holding reported by the Data API.
type Position struct {
	ConditionID  string
	MarketSlug   string
	Outcome      string
	Size         float64 // shares
	Value        float64 // current USD value
	InitialValue float64 // cost basis USD
	CashPnL      float64
	PercentPnL   float64
	Redeemable   bool // market resolved, tokens claimable
}

type dataAPIPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
	PercentPnL   float64 `json:"percentPnl"`
	CurPrice     float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
	Outcome      string  `json:"outcome"`
}

// NewClient creates a wallet client.
func NewClient(rpcURL string, logger *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Client{
		rpcURL:     rpcURL,
		dataAPI:    dataAPIBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}, nil
}

// GetBalances reads MATIC, USDC and the CTF Exchange allowance in one pass.
func (c *Client) GetBalances(ctx context.Context, address common.Address) (*Balances, error) {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	matic, err := client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("get matic balance: %w", err)
	}

	usdc, err := c.erc20Call(ctx, client, polygonUSDC, "balanceOf", address)
	if err != nil {
		return nil, fmt.Errorf("get usdc balance: %w", err)
	}

	allowance, err := c.erc20Call(ctx, client, polygonUSDC, "allowance",
		address, common.HexToAddress(polygonCTFExchange))
	if err != nil {
		return nil, fmt.Errorf("get usdc allowance: %w", err)
	}

	return &Balances{
		MATIC:         matic,
		USDC:          usdc,
		USDCAllowance: allowance,
	}, nil
}

func (c *Client) erc20Call(
	ctx context.Context,
	client *ethclient.Client,
	tokenAddr string,
	method string,
	args ...interface{},
) (*big.Int, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	token := common.HexToAddress(tokenAddr)
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return new(big.Int).SetBytes(result), nil
}

// GetPositions fetches open outcome-token positions for a wallet. Dust below
// the Data API's size threshold is excluded server-side; non-positive sizes
// are dropped here.
func (c *Client) GetPositions(ctx context.Context, address string) ([]Position, error) {
	url := fmt.Sprintf("%s/positions?user=%s&sizeThreshold=0.01", c.dataAPI, address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data api: status %d", resp.StatusCode)
	}

	var raw []dataAPIPosition
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		if p.Size <= 0 {
			continue
		}
		positions = append(positions, Position{
			ConditionID:  p.ConditionID,
			MarketSlug:   p.Slug,
			Outcome:      p.Outcome,
			Size:         p.Size,
			Value:        p.CurrentValue,
			InitialValue: p.InitialValue,
			CashPnL:      p.CashPnL,
			PercentPnL:   p.PercentPnL,
			Redeemable:   p.Redeemable,
		})
	}

	return positions, nil
}
