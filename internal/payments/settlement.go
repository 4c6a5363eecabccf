package payments

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentResult is the outcome of one settlement attempt.
type PaymentResult struct {
	Success     bool
	Proof       *PaymentProof
	TxHash      string
	ExplorerURL string
	Error       string
	GasUsed     uint64
}

// Payment is a single buyer-to-seller settlement for an agreed job.
type Payment struct {
	JobID         string
	Amount        decimal.Decimal
	Currency      string
	Network       string
	BuyerWallet   *Wallet
	SellerAddress string
}

// Execute transfers the agreed amount and builds the proof the buyer hands
// to the seller.
func (p *Payment) Execute(ctx context.Context) *PaymentResult {
	currency := p.Currency
	if currency == "" {
		currency = "USDC"
	}
	if currency != "USDC" {
		return &PaymentResult{Success: false, Error: "unsupported currency: " + currency}
	}

	transfer := p.BuyerWallet.Transfer(ctx, p.SellerAddress, p.Amount, currency)
	if !transfer.Success {
		return &PaymentResult{Success: false, TxHash: transfer.TxHash, Error: transfer.Error}
	}

	network := p.Network
	if network == "" {
		network = p.BuyerWallet.NetworkName()
	}

	return &PaymentResult{
		Success: true,
		Proof: &PaymentProof{
			JobID:       p.JobID,
			TxHash:      transfer.TxHash,
			Network:     network,
			Amount:      p.Amount,
			Currency:    currency,
			FromAddress: p.BuyerWallet.Address(),
			ToAddress:   p.SellerAddress,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		},
		TxHash:      transfer.TxHash,
		ExplorerURL: transfer.ExplorerURL,
		GasUsed:     transfer.GasUsed,
	}
}

// PaymentManager tracks settlements per job for a buyer process.
type PaymentManager struct {
	mu       sync.Mutex
	payments map[string]*PaymentResult
}

// NewPaymentManager creates an empty manager.
func NewPaymentManager() *PaymentManager {
	return &PaymentManager{payments: make(map[string]*PaymentResult)}
}

// Pay executes a settlement and records the result under its job id.
func (m *PaymentManager) Pay(ctx context.Context, p *Payment) *PaymentResult {
	result := p.Execute(ctx)
	m.mu.Lock()
	m.payments[p.JobID] = result
	m.mu.Unlock()
	return result
}

// Result returns the recorded settlement for a job, if any.
func (m *PaymentManager) Result(jobID string) (*PaymentResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.payments[jobID]
	return r, ok
}
