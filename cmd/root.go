package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "sprintbet",
	Short: "Short-duration binary-outcome betting executor",
	Long: `sprintbet executes and settles short-duration binary-outcome bets
(Up/Down on an asset price over 5-15 minute rounds) on a Polymarket-style
CLOB.

Signals arrive over HTTP from an external scorer. Each one passes an
admission gate (duplicate, cooldown and bankroll checks), is routed through
a maker-first order ladder with a taker fallback, and the resulting position
is settled against on-chain payout state once the round resolves.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
