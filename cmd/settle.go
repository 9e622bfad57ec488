package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/internal/oracle"
	"github.com/betcore/sprintbet/internal/settlement"
	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Reconcile open positions against on-chain payout state",
	Long: `Runs the settlement reconciler over the positions in the store:
reads payout numerators for each pending condition, redeems winning outcome
tokens, and records wins and losses in the ledger.

By default performs a single pass and exits. With --watch it keeps polling
until interrupted. Requires STORAGE_MODE=postgres to see positions opened
by a separate run of the service.`,
	RunE: runSettle,
}

//nolint:gochecknoglobals // Cobra boilerplate
var settleWatch bool

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(settleCmd)
	settleCmd.Flags().BoolVarP(&settleWatch, "watch", "w", false, "Keep polling until interrupted")
}

func runSettle(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.PolymarketPrivateKey == "" {
		return fmt.Errorf("POLYMARKET_PRIVATE_KEY is required")
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	book, err := ledger.Open(ctx, &ledger.Config{
		Logger:             logger,
		Store:              store,
		InitialBankrollUSD: cfg.InitialBankrollUSD,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	pending := book.PendingTrades()
	fmt.Printf("Pending positions: %d\n", len(pending))
	for _, trade := range pending {
		fmt.Printf("  %s  %s %s  stake %.2f USDC  filled @ %.3f\n",
			trade.ConditionID, trade.Asset, trade.Side, trade.TotalStakeUSD(), trade.FillPrice)
	}
	if len(pending) == 0 {
		return nil
	}

	chain, err := oracle.Dial(ctx, &oracle.Config{
		RPCURL:     cfg.PolygonRPCURL,
		PrivateKey: cfg.PolymarketPrivateKey,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}

	reconciler := settlement.New(&settlement.Config{
		Chain:        chain,
		Ledger:       book,
		PollInterval: cfg.SettlePollInterval,
		Strict:       cfg.SettleStrict,
		WaitLogEvery: cfg.SettleWaitLogEvery,
		Logger:       logger,
	})

	if settleWatch {
		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			cancel()
		}()
		reconciler.Run(ctx)
	} else {
		reconciler.Tick(ctx)
	}

	fmt.Printf("\nRemaining pending positions: %d\n", book.OpenCount())
	fmt.Printf("Bankroll: %.2f USDC\n", book.Bankroll())
	return nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.StorageMode == "postgres" {
		return storage.NewPostgresStore(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
	}
	return storage.NewMemoryStore(logger), nil
}
