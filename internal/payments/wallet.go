package payments

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/metrics"
)

const (
	// PrivateKeyEnv holds the wallet's hex-encoded private key.
	PrivateKeyEnv = "APEX_PRIVATE_KEY"

	// receiptWait caps how long a transfer waits for its receipt before
	// reporting "submitted, not yet confirmed".
	receiptWait = 30 * time.Second

	receiptPollInterval = 2 * time.Second

	// transferGasLimit covers a standard ERC-20 transfer.
	transferGasLimit = 100_000

	ethDecimals = 18
)

// gasPriceBump raises the chain's suggestion by 20% so replacements and
// bursts of transfers do not stall.
var gasPriceBump = big.NewInt(120)

// ErrUnsupportedToken is returned for any token other than USDC.
var ErrUnsupportedToken = errors.New("unsupported token")

// TransferResult reports the outcome of one transfer. Wallet faults land in
// Error, never in a returned error.
type TransferResult struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"tx_hash,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Error       string `json:"error,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
}

// Wallet signs and submits USDC transfers on one network.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	network NetworkConfig
	log     *zap.Logger

	clientOnce sync.Once
	client     *ethclient.Client
	clientErr  error

	// nonceMu guards the local high-water mark that keeps rapid transfers
	// from colliding on the chain-side pending nonce.
	nonceMu   sync.Mutex
	nextNonce uint64
	nonceSet  bool
}

// Generate creates a wallet with a fresh key.
func Generate(network string, logger *zap.Logger) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newWallet(key, network, logger)
}

// FromPrivateKey builds a wallet from a hex-encoded private key.
func FromPrivateKey(hexKey, network string, logger *zap.Logger) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newWallet(key, network, logger)
}

// FromEnv builds a wallet from the APEX_PRIVATE_KEY environment variable.
func FromEnv(network string, logger *zap.Logger) (*Wallet, error) {
	hexKey := os.Getenv(PrivateKeyEnv)
	if hexKey == "" {
		return nil, fmt.Errorf("%s is not set", PrivateKeyEnv)
	}
	return FromPrivateKey(hexKey, network, logger)
}

func newWallet(key *ecdsa.PrivateKey, network string, logger *zap.Logger) (*Wallet, error) {
	cfg, ok := Network(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		network: cfg,
		log:     logger.Named("wallet"),
	}, nil
}

// Address returns the wallet address in checksum casing.
func (w *Wallet) Address() string { return w.address.Hex() }

// NetworkName returns the wallet's settlement network identifier.
func (w *Wallet) NetworkName() string {
	for name, cfg := range networks {
		if cfg.ChainID == w.network.ChainID {
			return name
		}
	}
	return ""
}

// PrivateKeyHex exports the key for operator backup.
func (w *Wallet) PrivateKeyHex() string {
	return common.Bytes2Hex(crypto.FromECDSA(w.key))
}

func (w *Wallet) connect() (*ethclient.Client, error) {
	w.clientOnce.Do(func() {
		w.client, w.clientErr = ethclient.Dial(w.network.RPCURL)
	})
	return w.client, w.clientErr
}

// Balance returns the token balance in human units.
func (w *Wallet) Balance(ctx context.Context, token string) (decimal.Decimal, error) {
	if token != "USDC" {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedToken, token)
	}
	client, err := w.connect()
	if err != nil {
		return decimal.Zero, fmt.Errorf("connect: %w", err)
	}

	data, err := erc20ABI.Pack("balanceOf", w.address)
	if err != nil {
		return decimal.Zero, err
	}
	contract := common.HexToAddress(w.network.USDCAddress)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf: %w", err)
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(out) != 1 {
		return decimal.Zero, fmt.Errorf("decode balanceOf: %w", err)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, errors.New("decode balanceOf: unexpected type")
	}
	return decimal.NewFromBigInt(value, -USDCDecimals), nil
}

// EthBalance returns the native balance in ether units, for gas checks.
func (w *Wallet) EthBalance(ctx context.Context) (decimal.Decimal, error) {
	client, err := w.connect()
	if err != nil {
		return decimal.Zero, fmt.Errorf("connect: %w", err)
	}
	wei, err := client.BalanceAt(ctx, w.address, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, -ethDecimals), nil
}

// Transfer sends amount of token to the recipient and waits up to 30s for
// the receipt. A timeout is still a success: the transaction is submitted
// and the caller holds its hash.
func (w *Wallet) Transfer(ctx context.Context, to string, amount decimal.Decimal, token string) TransferResult {
	if token != "USDC" {
		return w.failed("", fmt.Sprintf("unsupported token: %s", token))
	}

	balance, err := w.Balance(ctx, token)
	if err != nil {
		return w.failed("", "balance check failed: "+err.Error())
	}
	if balance.LessThan(amount) {
		return w.failed("", fmt.Sprintf("insufficient balance: have $%s, need $%s",
			balance.StringFixed(2), amount.StringFixed(2)))
	}

	client, err := w.connect()
	if err != nil {
		return w.failed("", "connect failed: "+err.Error())
	}

	nonce, err := w.reserveNonce(ctx, client)
	if err != nil {
		return w.failed("", "nonce lookup failed: "+err.Error())
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return w.failed("", "gas price lookup failed: "+err.Error())
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, gasPriceBump), big.NewInt(100))

	raw := amount.Shift(USDCDecimals).BigInt()
	data, err := erc20ABI.Pack("transfer", common.HexToAddress(to), raw)
	if err != nil {
		return w.failed("", "encode transfer failed: "+err.Error())
	}

	contract := common.HexToAddress(w.network.USDCAddress)
	tx := types.NewTransaction(nonce, contract, big.NewInt(0), transferGasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(w.network.ChainID)), w.key)
	if err != nil {
		return w.failed("", "sign failed: "+err.Error())
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return w.failed("", "send failed: "+err.Error())
	}

	txHash := signed.Hash().Hex()
	w.log.Info("transfer submitted",
		zap.String("to", to),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("tx", txHash),
		zap.Uint64("nonce", nonce))

	return w.waitForReceipt(ctx, client, txHash)
}

// reserveNonce takes the chain's pending nonce unless the local high-water
// mark is already past it.
func (w *Wallet) reserveNonce(ctx context.Context, client *ethclient.Client) (uint64, error) {
	pending, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return 0, err
	}

	w.nonceMu.Lock()
	defer w.nonceMu.Unlock()

	nonce := pending
	if w.nonceSet && w.nextNonce > pending {
		nonce = w.nextNonce
	}
	w.nextNonce = nonce + 1
	w.nonceSet = true
	return nonce, nil
}

func (w *Wallet) waitForReceipt(ctx context.Context, client *ethclient.Client, txHash string) TransferResult {
	deadline := time.NewTimer(receiptWait)
	defer deadline.Stop()
	poll := time.NewTicker(receiptPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.pending(txHash)
		case <-deadline.C:
			w.log.Warn("receipt wait timed out", zap.String("tx", txHash))
			return w.pending(txHash)
		case <-poll.C:
			receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
			if err != nil || receipt == nil {
				continue
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				metrics.TransfersSubmitted.WithLabelValues("reverted").Inc()
				return TransferResult{
					Success:     false,
					TxHash:      txHash,
					ExplorerURL: ExplorerTxURL(w.NetworkName(), txHash),
					Error:       "transaction reverted",
					GasUsed:     receipt.GasUsed,
				}
			}
			metrics.TransfersSubmitted.WithLabelValues("confirmed").Inc()
			return TransferResult{
				Success:     true,
				TxHash:      txHash,
				ExplorerURL: ExplorerTxURL(w.NetworkName(), txHash),
				GasUsed:     receipt.GasUsed,
			}
		}
	}
}

// pending reports a submitted-but-unconfirmed transfer as success.
func (w *Wallet) pending(txHash string) TransferResult {
	metrics.TransfersSubmitted.WithLabelValues("pending").Inc()
	return TransferResult{
		Success:     true,
		TxHash:      txHash,
		ExplorerURL: ExplorerTxURL(w.NetworkName(), txHash),
	}
}

func (w *Wallet) failed(txHash, msg string) TransferResult {
	metrics.TransfersSubmitted.WithLabelValues("failed").Inc()
	w.log.Warn("transfer failed", zap.String("error", msg))
	return TransferResult{Success: false, TxHash: txHash, Error: msg}
}
