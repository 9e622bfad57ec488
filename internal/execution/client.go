package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/betcore/sprintbet/pkg/types"
)

const (
	polygonChainID = 137

	// CLOB rate limits, at 60% of the documented ceilings.
	orderRatePerSec = 20
	dataRatePerSec  = 50
)

// Client submits, polls and cancels orders on the Polymarket CLOB.
type Client struct {
	baseURL       string
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string // EOA address (signer)
	proxyAddress  string // proxy address (maker/funder)
	signatureType model.SignatureType
	orderBuilder  builder.ExchangeOrderBuilder
	httpClient    *http.Client
	orderLimiter  *rate.Limiter
	dataLimiter   *rate.Limiter
	logger        *zap.Logger

	// Last-known order states, fed by submission acks and status polls. The
	// router consults this cache between throttled direct queries.
	mu     sync.RWMutex
	cached map[string]*types.OrderState
}

// Config holds configuration for the CLOB client.
type Config struct {
	BaseURL       string
	APIKey        string
	Secret        string
	Passphrase    string
	PrivateKey    string
	Address       string
	ProxyAddress  string
	SignatureType int
	Timeout       time.Duration
	Logger        *zap.Logger
}

// NewClient creates a new CLOB order client.
func NewClient(cfg *Config) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := cfg.Address
	if address == "" {
		publicKey := privateKey.Public()
		publicKeyECDSA, _ := publicKey.(*ecdsa.PublicKey)
		address = crypto.PubkeyToAddress(*publicKeyECDSA).Hex()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	chainID := big.NewInt(polygonChainID)

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		secret:        cfg.Secret,
		passphrase:    cfg.Passphrase,
		privateKey:    privateKey,
		address:       address,
		proxyAddress:  cfg.ProxyAddress,
		signatureType: model.SignatureType(cfg.SignatureType),
		orderBuilder:  builder.NewExchangeOrderBuilderImpl(chainID, nil),
		httpClient:    &http.Client{Timeout: timeout},
		orderLimiter:  rate.NewLimiter(orderRatePerSec, 10),
		dataLimiter:   rate.NewLimiter(dataRatePerSec, 20),
		logger:        cfg.Logger,
	}, nil
}

// SignedOrderJSON represents a signed order in JSON format.
type SignedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// orderResponse is the CLOB's reply to an order submission.
type orderResponse struct {
	Success  bool    `json:"success"`
	ErrorMsg string  `json:"errorMsg"`
	OrderID  string  `json:"orderID"`
	Status   string  `json:"status"`
	Price    float64 `json:"price,string"`
	Size     float64 `json:"size,string"`
}

// PlaceGTC posts a Good-Till-Cancelled maker BUY at price for shares.
func (c *Client) PlaceGTC(ctx context.Context, tokenID string, price, shares float64) (*types.OrderAck, error) {
	makerAmount := usdToRawAmount(price * shares)
	takerAmount := usdToRawAmount(shares)

	ack, err := c.submit(ctx, tokenID, makerAmount, takerAmount, "GTC")
	if err != nil {
		return nil, err
	}
	if ack.Price == 0 {
		ack.Price = price
	}
	return ack, nil
}

// PlaceFOK submits a Fill-or-Kill market BUY of amountUSD capped at capPrice.
// A non-instant match comes back as OrderKilled, never as an error.
func (c *Client) PlaceFOK(ctx context.Context, tokenID string, amountUSD, capPrice float64) (*types.OrderAck, error) {
	makerAmount := usdToRawAmount(amountUSD)
	takerAmount := usdToRawAmount(amountUSD / capPrice)

	return c.submit(ctx, tokenID, makerAmount, takerAmount, "FOK")
}

func (c *Client) submit(ctx context.Context, tokenID, makerAmount, takerAmount, orderType string) (*types.OrderAck, error) {
	makerAddress := c.address
	if c.proxyAddress != "" {
		makerAddress = c.proxyAddress
	}

	orderData := &model.OrderData{
		Maker:         makerAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenId:       tokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Side:          model.BUY,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        c.address,
		Expiration:    "0",
		SignatureType: c.signatureType,
	}

	signedOrder, err := c.orderBuilder.BuildSignedOrder(c.privateKey, orderData, model.CTFExchange)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}

	sideStr := "BUY"
	if signedOrder.Side.Uint64() == uint64(model.SELL) {
		sideStr = "SELL"
	}

	jsonOrder := SignedOrderJSON{
		Salt:          signedOrder.Salt.Int64(),
		Maker:         signedOrder.Maker.Hex(),
		Signer:        signedOrder.Signer.Hex(),
		Taker:         signedOrder.Taker.Hex(),
		TokenID:       signedOrder.TokenId.String(),
		MakerAmount:   signedOrder.MakerAmount.String(),
		TakerAmount:   signedOrder.TakerAmount.String(),
		Side:          sideStr,
		Expiration:    signedOrder.Expiration.String(),
		Nonce:         signedOrder.Nonce.String(),
		FeeRateBps:    signedOrder.FeeRateBps.String(),
		SignatureType: int(signedOrder.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(signedOrder.Signature),
	}

	orderRequest := map[string]interface{}{
		"order":     jsonOrder,
		"owner":     c.apiKey,
		"orderType": orderType,
	}

	body, status, err := c.do(ctx, c.orderLimiter, http.MethodPost, "/order", orderRequest)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if unmarshalErr := json.Unmarshal(body, &resp); unmarshalErr != nil {
		return nil, fmt.Errorf("parse order response: %w", unmarshalErr)
	}

	if status != http.StatusOK && status != http.StatusCreated {
		// A killed FOK surfaces as an API error body; it is a result, not
		// a failure.
		if strings.Contains(resp.ErrorMsg, types.ErrFOKNotFilled) {
			OrdersTotal.WithLabelValues(orderType, "killed").Inc()
			return &types.OrderAck{Status: types.OrderKilled}, nil
		}
		OrdersTotal.WithLabelValues(orderType, "error").Inc()
		return nil, &types.OrderError{
			Code:       types.ErrUnknownStatus,
			Message:    resp.ErrorMsg,
			StatusCode: status,
		}
	}

	ack := &types.OrderAck{
		OrderID:    resp.OrderID,
		Status:     mapSubmitStatus(resp.Status, resp.ErrorMsg),
		Price:      resp.Price,
		FilledSize: resp.Size,
	}

	OrdersTotal.WithLabelValues(orderType, string(ack.Status)).Inc()

	c.logger.Info("order-submitted",
		zap.String("order-id", ack.OrderID),
		zap.String("order-type", orderType),
		zap.String("status", string(ack.Status)),
		zap.String("token-id", tokenID))

	if ack.OrderID != "" {
		c.cacheState(&types.OrderState{
			OrderID:     ack.OrderID,
			Status:      strings.ToUpper(resp.Status),
			Price:       ack.Price,
			SizeMatched: ack.FilledSize,
		})
	}

	return ack, nil
}

func mapSubmitStatus(status, errorMsg string) types.OrderStatus {
	switch strings.ToLower(status) {
	case "matched":
		return types.OrderMatched
	case "live":
		return types.OrderLive
	case "delayed":
		return types.OrderDelayed
	case "unmatched", "killed":
		return types.OrderKilled
	}
	if strings.Contains(errorMsg, types.ErrFOKNotFilled) {
		return types.OrderKilled
	}
	return types.OrderLive
}

// orderStateResponse is the CLOB's reply to an order status query.
type orderStateResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Price        float64 `json:"price,string"`
	OriginalSize float64 `json:"original_size,string"`
	SizeMatched  float64 `json:"size_matched,string"`
}

// Status queries the live state of an order and refreshes the cache.
func (c *Client) Status(ctx context.Context, orderID string) (*types.OrderState, error) {
	body, status, err := c.do(ctx, c.dataLimiter, http.MethodGet, "/data/order/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &types.OrderError{
			Code:       types.ErrUnknownStatus,
			Message:    string(body),
			OrderID:    orderID,
			StatusCode: status,
		}
	}

	var resp orderStateResponse
	if unmarshalErr := json.Unmarshal(body, &resp); unmarshalErr != nil {
		return nil, fmt.Errorf("parse order state: %w", unmarshalErr)
	}

	state := &types.OrderState{
		OrderID:      orderID,
		Status:       strings.ToUpper(resp.Status),
		Price:        resp.Price,
		OriginalSize: resp.OriginalSize,
		SizeMatched:  resp.SizeMatched,
	}
	c.cacheState(state)

	return state, nil
}

// Cached returns the last-known state for an order without a network call.
func (c *Client) Cached(orderID string) (*types.OrderState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, ok := c.cached[orderID]
	if !ok {
		return nil, false
	}
	cp := *state
	return &cp, true
}

func (c *Client) cacheState(state *types.OrderState) {
	c.mu.Lock()
	if c.cached == nil {
		c.cached = make(map[string]*types.OrderState)
	}
	c.cached[state.OrderID] = state
	c.mu.Unlock()
}

// Cancel cancels a resting order. Callers treat errors as best-effort: a
// maker order found already filled is not a failure.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	payload := map[string]string{"orderID": orderID}

	_, status, err := c.do(ctx, c.orderLimiter, http.MethodDelete, "/order", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &types.OrderError{
			Code:       types.ErrUnknownStatus,
			Message:    fmt.Sprintf("cancel returned status %d", status),
			OrderID:    orderID,
			StatusCode: status,
		}
	}

	c.logger.Debug("order-cancelled", zap.String("order-id", orderID))
	return nil
}

// do signs and executes one authenticated CLOB request.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, method, path string, payload interface{}) ([]byte, int, error) {
	err := limiter.Wait(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody []byte
	if payload != nil {
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature, err := c.hmacSignature(timestamp, method, path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.address)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	RequestDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, resp.StatusCode, &types.OrderError{
			Code:       types.ErrUnknownStatus,
			Message:    string(body),
			StatusCode: resp.StatusCode,
		}
	}

	return body, resp.StatusCode, nil
}

// hmacSignature builds the L2 auth signature: urlsafe-base64 HMAC-SHA256 of
// timestamp + method + path + body with the urlsafe-base64-decoded secret.
func (c *Client) hmacSignature(timestamp, method, path string, body []byte) (string, error) {
	secretBytes, err := base64.URLEncoding.DecodeString(c.secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(timestamp + method + path + string(body)))
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

func usdToRawAmount(usd float64) string {
	rawAmount := int64(math.Round(usd * 1000000))
	return fmt.Sprintf("%d", rawAmount)
}
