package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexprotocol/apexd/internal/payments"
)

var walletNetwork string

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Wallet utilities",
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a wallet key",
	Long: `Generate a fresh wallet and print its address and private key. Store the
key in APEX_PRIVATE_KEY to use it for payments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := payments.Generate(walletNetwork, nil)
		if err != nil {
			return err
		}
		fmt.Printf("address:     %s\n", w.Address())
		fmt.Printf("private key: %s\n", w.PrivateKeyHex())
		fmt.Printf("network:     %s\n", walletNetwork)
		return nil
	},
}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show USDC and ETH balances for the APEX_PRIVATE_KEY wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := payments.FromEnv(walletNetwork, nil)
		if err != nil {
			return err
		}

		usdc, err := w.Balance(cmd.Context(), "USDC")
		if err != nil {
			return err
		}
		eth, err := w.EthBalance(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("address: %s\n", w.Address())
		fmt.Printf("USDC:    $%s\n", usdc.StringFixed(2))
		fmt.Printf("ETH:     %s\n", eth.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletNewCmd, walletBalanceCmd)

	walletCmd.PersistentFlags().StringVar(&walletNetwork, "network", payments.DefaultNetwork(), "settlement network")
}
