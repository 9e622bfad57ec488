package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	ctfContractAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	usdcAddress        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	polygonChainID     = 137

	redeemGasLimit = uint64(200000)
)

const ctfABI = `[
	{"constant":true,"inputs":[{"name":"","type":"bytes32"}],"name":"payoutDenominator","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"","type":"bytes32"},{"name":"","type":"uint256"}],"name":"payoutNumerators","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"id","type":"uint256"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// Backend is the subset of ethclient.Client the oracle needs. It also
// satisfies bind.DeployBackend so receipts can be awaited.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client reads condition payout state from the CTF contract and redeems
// winning outcome tokens for USDC.
type Client struct {
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ctfABI     abi.ABI
	erc20ABI   abi.ABI
	logger     *zap.Logger
}

// Config holds configuration for the oracle client.
type Config struct {
	RPCURL     string
	PrivateKey string
	Logger     *zap.Logger
}

// Dial connects to the Polygon RPC endpoint and builds a client.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	return NewClient(backend, cfg)
}

// NewClient builds a client on an existing backend.
func NewClient(backend Backend, cfg *Config) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}

	parsedCTF, err := abi.JSON(strings.NewReader(ctfABI))
	if err != nil {
		return nil, fmt.Errorf("parse CTF ABI: %w", err)
	}

	parsedERC20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}

	return &Client{
		backend:    backend,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		ctfABI:     parsedCTF,
		erc20ABI:   parsedERC20,
		logger:     cfg.Logger,
	}, nil
}

// Address returns the redeeming wallet address.
func (c *Client) Address() common.Address {
	return c.address
}

// Payouts holds the reported payout vector of a condition. Reported is false
// until the oracle has written a nonzero denominator on chain.
type Payouts struct {
	Reported   bool
	Numerators [2]*big.Int
}

// Payouts reads the payout denominator and both numerators for a condition.
func (c *Client) Payouts(ctx context.Context, conditionID string) (*Payouts, error) {
	conditionHash := common.HexToHash(conditionID)

	denominator, err := c.readUint(ctx, "payoutDenominator", conditionHash)
	if err != nil {
		return nil, fmt.Errorf("read payout denominator: %w", err)
	}

	payouts := &Payouts{}
	if denominator.Sign() == 0 {
		return payouts, nil
	}
	payouts.Reported = true

	for i := 0; i < 2; i++ {
		numerator, numErr := c.readUint(ctx, "payoutNumerators", conditionHash, big.NewInt(int64(i)))
		if numErr != nil {
			return nil, fmt.Errorf("read payout numerator %d: %w", i, numErr)
		}
		payouts.Numerators[i] = numerator
	}

	return payouts, nil
}

// Winner returns the winning outcome index, or -1 when the payout vector is
// ambiguous (both numerators nonzero, or both zero).
func (p *Payouts) Winner() int {
	if !p.Reported {
		return -1
	}
	zeroAt0 := p.Numerators[0].Sign() == 0
	zeroAt1 := p.Numerators[1].Sign() == 0
	switch {
	case !zeroAt0 && zeroAt1:
		return 0
	case zeroAt0 && !zeroAt1:
		return 1
	default:
		return -1
	}
}

// Redeem calls redeemPositions on the CTF contract for one condition and
// index set, and waits for the receipt. The USDC credited is observed by the
// caller as a balance delta, not returned here.
func (c *Client) Redeem(ctx context.Context, conditionID string, outcomeIndex int) (string, error) {
	// Index sets are bitmasks: outcome 0 -> 0b01, outcome 1 -> 0b10.
	indexSet := big.NewInt(1 << outcomeIndex)

	data, err := c.ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcAddress),
		common.Hash{},
		common.HexToHash(conditionID),
		[]*big.Int{indexSet})
	if err != nil {
		return "", fmt.Errorf("pack call data: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := ethtypes.NewTransaction(
		nonce,
		common.HexToAddress(ctfContractAddress),
		big.NewInt(0),
		redeemGasLimit,
		gasPrice,
		data,
	)

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(big.NewInt(polygonChainID)), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	err = c.backend.SendTransaction(ctx, signedTx)
	if err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	c.logger.Info("redemption-tx-sent",
		zap.String("tx-hash", signedTx.Hash().Hex()),
		zap.String("condition-id", conditionID),
		zap.Int("outcome-index", outcomeIndex))

	start := time.Now()
	receipt, err := bind.WaitMined(ctx, c.backend, signedTx)
	RedemptionDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("wait for tx: %w", err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		RedemptionsTotal.WithLabelValues("reverted").Inc()
		return signedTx.Hash().Hex(), fmt.Errorf("redemption tx %s reverted", signedTx.Hash().Hex())
	}

	RedemptionsTotal.WithLabelValues("confirmed").Inc()
	c.logger.Info("redemption-confirmed",
		zap.String("tx-hash", receipt.TxHash.Hex()),
		zap.Uint64("gas-used", receipt.GasUsed))

	return signedTx.Hash().Hex(), nil
}

// USDCBalance returns the wallet's USDC balance in whole dollars.
func (c *Client) USDCBalance(ctx context.Context) (float64, error) {
	data, err := c.erc20ABI.Pack("balanceOf", c.address)
	if err != nil {
		return 0, fmt.Errorf("pack ABI: %w", err)
	}

	raw, err := c.call(ctx, common.HexToAddress(usdcAddress), data)
	if err != nil {
		return 0, fmt.Errorf("get USDC balance: %w", err)
	}

	return rawToUSD(new(big.Int).SetBytes(raw)), nil
}

// OutcomeBalance returns the wallet's balance of one outcome token, in
// shares. Token IDs are the decimal ERC1155 position ids used by the CLOB.
func (c *Client) OutcomeBalance(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("invalid token id %q", tokenID)
	}

	data, err := c.ctfABI.Pack("balanceOf", c.address, id)
	if err != nil {
		return 0, fmt.Errorf("pack ABI: %w", err)
	}

	raw, err := c.call(ctx, common.HexToAddress(ctfContractAddress), data)
	if err != nil {
		return 0, fmt.Errorf("get outcome balance: %w", err)
	}

	return rawToUSD(new(big.Int).SetBytes(raw)), nil
}

func (c *Client) readUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.ctfABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack ABI: %w", err)
	}

	raw, err := c.call(ctx, common.HexToAddress(ctfContractAddress), data)
	if err != nil {
		return nil, err
	}

	return new(big.Int).SetBytes(raw), nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}

	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call contract: %w", err)
	}
	return result, nil
}

// rawToUSD converts a 6-decimal token amount to a float dollar value.
func rawToUSD(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return f
}
