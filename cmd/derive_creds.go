package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/betcore/sprintbet/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var deriveCredsCmd = &cobra.Command{
	Use:   "derive-creds",
	Short: "Derive CLOB API credentials from the wallet private key",
	Long: `Signs a ClobAuth attestation with the wallet private key and exchanges
it for the L2 API credentials the executor needs:

  POLYMARKET_API_KEY=...
  POLYMARKET_SECRET=...
  POLYMARKET_PASSPHRASE=...

Save the printed values to your .env file.`,
	RunE: runDeriveCreds,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(deriveCredsCmd)
}

func runDeriveCreds(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.PolymarketPrivateKey == "" {
		return fmt.Errorf("POLYMARKET_PRIVATE_KEY is required")
	}

	// tradingAddress would return the proxy; the attestation must come from
	// the signing EOA itself.
	eoaCfg := *cfg
	eoaCfg.FunderAddress = ""
	address, err := tradingAddress(&eoaCfg)
	if err != nil {
		return err
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature, err := signClobAuth(cfg.PolymarketPrivateKey, address, timestamp)
	if err != nil {
		return fmt.Errorf("sign attestation: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := cfg.ClobBaseURL + "/auth/derive-api-key"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_NONCE", "0")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("derive API key: status %d: %s", resp.StatusCode, string(body))
	}

	var creds struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	err = json.Unmarshal(body, &creds)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	fmt.Printf("Credentials for %s:\n\n", address)
	fmt.Printf("POLYMARKET_API_KEY=%s\n", creds.APIKey)
	fmt.Printf("POLYMARKET_SECRET=%s\n", creds.Secret)
	fmt.Printf("POLYMARKET_PASSPHRASE=%s\n\n", creds.Passphrase)
	fmt.Printf("Save these to your .env file. They are bound to the private key.\n")

	return nil
}

// signClobAuth produces the EIP-712 signature the CLOB accepts as proof of
// wallet control.
func signClobAuth(privateKeyHex, address, timestamp string) (string, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(137),
		},
		Message: map[string]interface{}{
			"address":   address,
			"timestamp": timestamp,
			"nonce":     "0",
			"message":   "This message attests that I control the given wallet",
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", fmt.Errorf("hash message: %w", err)
	}

	digest := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash))))

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	signature, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return hexutil.Encode(signature), nil
}
