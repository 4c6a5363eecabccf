package payments

import "github.com/shopspring/decimal"

// PaymentProof is the buyer's claim of an on-chain payment, exchanged
// out-of-band and checked by the verifier.
type PaymentProof struct {
	JobID       string          `json:"job_id"`
	TxHash      string          `json:"tx_hash"`
	Network     string          `json:"network"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Timestamp   string          `json:"timestamp"`
}
