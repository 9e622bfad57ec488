package cmd

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/config"
	"github.com/betcore/sprintbet/pkg/wallet"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show the wallet's open market positions",
	Long: `Lists outcome token positions held by the trading wallet, including
resolved markets whose tokens are still redeemable. Use the settle command
to claim those.`,
	RunE: runPositions,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	address, err := tradingAddress(cfg)
	if err != nil {
		return err
	}

	client, err := wallet.NewClient(cfg.PolygonRPCURL, zap.NewNop())
	if err != nil {
		return fmt.Errorf("create wallet client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := client.GetPositions(ctx, address)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	fmt.Printf("=== Positions for %s ===\n\n", address)
	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return nil
	}

	totalValue := 0.0
	totalPnL := 0.0
	redeemable := 0
	for _, pos := range positions {
		marker := " "
		if pos.Redeemable {
			marker = "R"
			redeemable++
		}
		fmt.Printf("[%s] %-40s %-6s size %10.2f  value %8.2f  pnl %+8.2f (%+.1f%%)\n",
			marker, truncate(pos.MarketSlug, 40), pos.Outcome,
			pos.Size, pos.Value, pos.CashPnL, pos.PercentPnL)
		totalValue += pos.Value
		totalPnL += pos.CashPnL
	}

	fmt.Printf("\nTotal: %d positions, value %.2f USDC, pnl %+.2f USDC\n",
		len(positions), totalValue, totalPnL)
	if redeemable > 0 {
		fmt.Printf("%d position(s) redeemable: run `sprintbet settle`\n", redeemable)
	}
	return nil
}

func tradingAddress(cfg *config.Config) (string, error) {
	if cfg.FunderAddress != "" {
		return cfg.FunderAddress, nil
	}
	if cfg.PolymarketPrivateKey == "" {
		return "", fmt.Errorf("POLYMARKET_PRIVATE_KEY or POLYMARKET_FUNDER_ADDRESS is required")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PolymarketPrivateKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("error casting public key to ECDSA")
	}
	return crypto.PubkeyToAddress(*publicKey).Hex(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
