// Package evm commits verification payloads to EVM compatible chains as
// self-addressed transactions carrying the payload envelope in calldata.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// Backend is the subset of chain access the adapter needs. Both
// *ethclient.Client and *backends.SimulatedBackend satisfy it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*coretypes.Transaction, bool, error)
}

// Config describes one EVM commit target.
type Config struct {
	Network       tiers.NetworkID
	RPCURL        string
	ChainID       *big.Int
	Confirmations uint64
	PollInterval  time.Duration
	// CommitsPerSecond throttles transaction submission so a burst of
	// receipts cannot exhaust the RPC provider's quota.
	CommitsPerSecond float64
}

// Adapter implements chain.Adapter against an EVM chain. The signing key is
// injected at construction and never leaves the struct.
type Adapter struct {
	network       tiers.NetworkID
	backend       Backend
	rpcClient     *gethrpc.Client
	key           *ecdsa.PrivateKey
	from          common.Address
	chainID       *big.Int
	confirmations uint64
	pollInterval  time.Duration
	limiter       *rate.Limiter
}

// NewAdapter dials the configured RPC endpoint.
func NewAdapter(ctx context.Context, cfg Config, key *ecdsa.PrivateKey) (*Adapter, error) {
	if key == nil {
		return nil, errors.New("evm: signing key is required")
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("evm: rpc url is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("evm: chain id is required")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	a := newAdapter(cfg, ethclient.NewClient(rpcClient), key)
	a.rpcClient = rpcClient
	return a, nil
}

// NewSimulatedAdapter wraps a go-ethereum simulated backend for tests and
// local dry runs.
func NewSimulatedAdapter(cfg Config, backend *backends.SimulatedBackend, key *ecdsa.PrivateKey) *Adapter {
	return newAdapter(cfg, backend, key)
}

func newAdapter(cfg Config, backend Backend, key *ecdsa.PrivateKey) *Adapter {
	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	limit := rate.Limit(cfg.CommitsPerSecond)
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Adapter{
		network:       cfg.Network,
		backend:       backend,
		key:           key,
		from:          gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:       new(big.Int).Set(cfg.ChainID),
		confirmations: confirmations,
		pollInterval:  pollInterval,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

// Close releases the RPC connection when the adapter was dialed.
func (a *Adapter) Close() {
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
	}
}

func (a *Adapter) Network() tiers.NetworkID { return a.network }

// From returns the submitting account address.
func (a *Adapter) From() common.Address { return a.from }

// Commit submits the payload envelope as calldata on a self-addressed
// transaction and blocks until the configured confirmation depth is reached.
func (a *Adapter) Commit(ctx context.Context, payload chain.CommitPayload) (*chain.CommitReceipt, error) {
	data, err := payload.MarshalBinary()
	if err != nil {
		return nil, a.fail("commit", false, err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, a.fail("commit", true, err)
	}

	signed, err := a.buildAndSign(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return nil, a.fail("send transaction", true, err)
	}

	receipt, err := a.awaitConfirmed(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, a.fail("commit", false,
			fmt.Errorf("transaction %s reverted", signed.Hash().Hex()))
	}

	return &chain.CommitReceipt{
		Network:     a.network,
		TxRef:       signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		CommittedAt: time.Now().UTC(),
	}, nil
}

// Read fetches the payload envelope behind a transaction reference. Pending
// transactions are treated as absent: only mined data backs a receipt.
func (a *Adapter) Read(ctx context.Context, ref string) (*chain.CommitPayload, error) {
	if !strings.HasPrefix(ref, "0x") || len(ref) != 2+2*common.HashLength {
		return nil, a.fail("read", false, fmt.Errorf("malformed transaction reference %q", ref))
	}

	tx, pending, err := a.backend.TransactionByHash(ctx, common.HexToHash(ref))
	if errors.Is(err, gethcore.NotFound) {
		return nil, chain.ErrNotFound
	}
	if err != nil {
		return nil, a.fail("read", true, err)
	}
	if pending {
		return nil, chain.ErrNotFound
	}

	payload, err := chain.DecodePayload(tx.Data())
	if err != nil {
		return nil, a.fail("read", false, err)
	}
	return &payload, nil
}

func (a *Adapter) buildAndSign(ctx context.Context, data []byte) (*coretypes.Transaction, error) {
	nonce, err := a.backend.PendingNonceAt(ctx, a.from)
	if err != nil {
		return nil, a.fail("pending nonce", true, err)
	}
	head, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, a.fail("latest header", true, err)
	}
	gasTipCap, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, a.fail("suggest tip", true, err)
	}
	gasFeeCap := new(big.Int).Set(gasTipCap)
	if head.BaseFee != nil {
		gasFeeCap = new(big.Int).Add(head.BaseFee, gasTipCap)
	}

	gas, err := a.backend.EstimateGas(ctx, gethcore.CallMsg{
		From: a.from,
		To:   &a.from,
		Data: data,
	})
	if err != nil {
		return nil, a.fail("estimate gas", true, err)
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        &a.from,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return nil, a.fail("sign transaction", false, err)
	}
	return signed, nil
}

// awaitConfirmed polls for the receipt and then for confirmation depth.
// Against a simulated backend it mines blocks itself so the loop progresses.
func (a *Adapter) awaitConfirmed(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	a.commitIfSimulated()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var receipt *coretypes.Receipt
	for receipt == nil {
		r, err := a.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && r != nil:
			receipt = r
		case err != nil && !errors.Is(err, gethcore.NotFound):
			return nil, a.fail("transaction receipt", true, err)
		default:
			select {
			case <-ctx.Done():
				return nil, a.fail("await receipt", true, ctx.Err())
			case <-ticker.C:
				a.commitIfSimulated()
			}
		}
	}

	for {
		head, err := a.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, a.fail("latest header", true, err)
		}
		depth := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		if depth.Sign() >= 0 && depth.Uint64()+1 >= a.confirmations {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, a.fail("await confirmations", true, ctx.Err())
		case <-ticker.C:
			a.commitIfSimulated()
		}
	}
}

func (a *Adapter) commitIfSimulated() {
	if sim, ok := a.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}
}

func (a *Adapter) fail(op string, retryable bool, err error) error {
	return &chain.AdapterError{Network: a.network, Op: op, Retryable: retryable, Err: err}
}

var _ chain.Adapter = (*Adapter)(nil)
