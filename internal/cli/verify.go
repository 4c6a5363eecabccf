package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/apexprotocol/apexd/internal/payments"
)

var (
	verifyProofFile string
	verifySeller    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a payment proof against the chain",
	Long: `Check that a payment proof matches a confirmed USDC transfer: recipient,
sender, amount within tolerance, and success status. Reads the proof JSON from
--proof or stdin.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyProofFile, "proof", "", "path to the proof JSON (default stdin)")
	verifyCmd.Flags().StringVar(&verifySeller, "seller", "", "expected recipient address")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	var raw []byte
	if verifyProofFile != "" {
		raw, err = os.ReadFile(verifyProofFile)
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read proof: %w", err)
	}

	var proof payments.PaymentProof
	if err := json.Unmarshal(raw, &proof); err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}

	v := payments.NewVerifier(log)
	if !v.Verify(cmd.Context(), &proof, verifySeller) {
		fmt.Println("verification: FAILED")
		os.Exit(1)
	}
	fmt.Println("verification: OK")
	fmt.Printf("explorer: %s\n", payments.ExplorerTxURL(proof.Network, proof.TxHash))
	return nil
}
