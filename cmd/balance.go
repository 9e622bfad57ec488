package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/config"
	"github.com/betcore/sprintbet/pkg/wallet"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Check wallet balances",
	Long: `Display the trading wallet's holdings:
- MATIC balance (for redemption gas)
- USDC balance (for betting)
- USDC allowance approved to the CTF Exchange`,
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
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

	balances, err := client.GetBalances(ctx, common.HexToAddress(address))
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	matic := new(big.Float).Quo(new(big.Float).SetInt(balances.MATIC), big.NewFloat(1e18))
	usdc := new(big.Float).Quo(new(big.Float).SetInt(balances.USDC), big.NewFloat(1e6))
	allowance := new(big.Float).Quo(new(big.Float).SetInt(balances.USDCAllowance), big.NewFloat(1e6))

	fmt.Printf("=== Wallet %s ===\n\n", address)
	fmt.Printf("MATIC Balance:  %s MATIC\n", matic.Text('f', 6))
	fmt.Printf("USDC Balance:   %s USDC\n", usdc.Text('f', 2))
	if balances.USDCAllowance.Cmp(new(big.Int).SetUint64(1e18)) > 0 {
		fmt.Printf("USDC Allowance: unlimited\n")
	} else {
		fmt.Printf("USDC Allowance: %s USDC\n", allowance.Text('f', 2))
	}
	return nil
}
