package payments

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTolerance is the amount slack allowed between the proof and the
// decoded on-chain value, in currency units.
var DefaultTolerance = decimal.NewFromFloat(0.01)

// TxReader is the slice of the Ethereum client the verifier consumes.
type TxReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

// Verifier checks payment proofs against the chain. Verification never
// explains its failures to the caller; mismatches only reach the log.
type Verifier struct {
	log  *zap.Logger
	dial func(rpcURL string) (TxReader, error)
}

// NewVerifier builds a verifier that dials the network's RPC endpoint per
// check.
func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		log: logger.Named("verify"),
		dial: func(rpcURL string) (TxReader, error) {
			return ethclient.Dial(rpcURL)
		},
	}
}

// NewVerifierWithReader builds a verifier over a fixed reader, for tests and
// pooled clients.
func NewVerifierWithReader(logger *zap.Logger, reader TxReader) *Verifier {
	v := NewVerifier(logger)
	v.dial = func(string) (TxReader, error) { return reader, nil }
	return v
}

// Verify reports whether the proof matches a successful token transfer on
// its network. expectedSeller is an optional extra recipient check.
func (v *Verifier) Verify(ctx context.Context, proof *PaymentProof, expectedSeller string) bool {
	cfg, ok := Network(proof.Network)
	if !ok {
		v.log.Warn("unknown network", zap.String("network", proof.Network))
		return false
	}

	client, err := v.dial(cfg.RPCURL)
	if err != nil {
		v.log.Warn("rpc dial failed", zap.Error(err))
		return false
	}

	txHash := common.HexToHash(proof.TxHash)

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		v.log.Debug("receipt not found", zap.String("tx", proof.TxHash))
		return false
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false
	}

	tx, pending, err := client.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil || pending {
		return false
	}

	if tx.To() == nil || !addrEqual(tx.To().Hex(), cfg.USDCAddress) {
		return false
	}

	to, rawValue, ok := decodeTransfer(tx.Data())
	if !ok {
		return false
	}

	if expectedSeller != "" && !addrEqual(to.Hex(), expectedSeller) {
		return false
	}
	if !addrEqual(to.Hex(), proof.ToAddress) {
		return false
	}

	amount := decimal.NewFromBigInt(rawValue, -USDCDecimals)
	if amount.Sub(proof.Amount).Abs().GreaterThan(DefaultTolerance) {
		return false
	}

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(cfg.ChainID)), tx)
	if err != nil || !addrEqual(from.Hex(), proof.FromAddress) {
		return false
	}

	return true
}

// decodeTransfer unpacks a transfer(to, value) calldata payload.
func decodeTransfer(data []byte) (common.Address, *big.Int, bool) {
	if len(data) < 4 {
		return common.Address{}, nil, false
	}
	method, err := erc20ABI.MethodById(data[:4])
	if err != nil || method.Name != "transfer" {
		return common.Address{}, nil, false
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return common.Address{}, nil, false
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, nil, false
	}
	value, ok := args[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, false
	}
	return to, value, true
}

func addrEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
