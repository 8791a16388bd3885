package clients

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/domain"
	"github.com/vadiminshakov/tokensync/pkg/retrier"
)

// backend is the node connection; *ethclient.Client satisfies it.
type backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EthClient is the gateway to the wallet and the node. It never retries;
// retry and timeout policy belongs to its callers.
type EthClient struct {
	node     backend
	wallet   *Wallet
	contract common.Address
	abi      abi.ABI
	bound    *bind.BoundContract
	logger   *zap.Logger
}

// DialEthClient connects to the node RPC endpoint, retrying transient
// failures with r's backoff and logging every retry. A nil r uses the
// retrier defaults.
func DialEthClient(ctx context.Context, rpcURL string, r *retrier.Retrier, logger *zap.Logger) (*ethclient.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r = r.With(retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		logger.Warn("dial rpc failed, retrying",
			zap.String("rpc", rpcURL), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}))
	client, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, rpcURL)
	})
	if err != nil {
		return nil, errors.Wrapf(domain.ErrUnreachable, "dial %s: %s", rpcURL, err)
	}
	return client, nil
}

// NewEthClient creates a gateway bound to the token contract at contract.
func NewEthClient(node backend, wallet *Wallet, contract common.Address, logger *zap.Logger) (*EthClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if node == nil {
		return nil, errors.New("node backend is required")
	}
	parsed, err := TokenABI()
	if err != nil {
		return nil, err
	}
	return &EthClient{
		node:     node,
		wallet:   wallet,
		contract: contract,
		abi:      parsed,
		bound:    bind.NewBoundContract(contract, parsed, node, node, node),
		logger:   logger.With(zap.String("contract", contract.Hex())),
	}, nil
}

// HasWallet reports whether a wallet integration is available.
func (c *EthClient) HasWallet() bool {
	return c.wallet.Present()
}

// NetworkID returns the chain id the node reports.
func (c *EthClient) NetworkID(ctx context.Context) (*big.Int, error) {
	id, err := c.node.ChainID(ctx)
	if err != nil {
		return nil, classifyCallError(err, "chain id")
	}
	return id, nil
}

// RequestAccounts prompts the wallet to connect.
func (c *EthClient) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if !c.HasWallet() {
		return nil, domain.ErrNoProvider
	}
	return c.wallet.RequestAccounts(ctx)
}

// Account returns the connected account.
func (c *EthClient) Account(_ context.Context) (common.Address, error) {
	if !c.HasWallet() {
		return common.Address{}, domain.ErrNoProvider
	}
	account, ok := c.wallet.Selected()
	if !ok {
		return common.Address{}, domain.ErrNoAccount
	}
	return account, nil
}

// CodeAt returns the bytecode at addr; empty when nothing is deployed.
func (c *EthClient) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.node.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, classifyCallError(err, "get code")
	}
	return code, nil
}

// ReadContract performs a read-only call of a contract method.
func (c *EthClient) ReadContract(ctx context.Context, method string, args ...any) ([]any, error) {
	opts := &bind.CallOpts{Context: ctx}
	if account, ok := c.wallet.Selected(); ok {
		opts.From = account
	}
	var out []any
	if err := c.bound.Call(opts, &out, method, args...); err != nil {
		return nil, classifyCallError(err, method)
	}
	return out, nil
}

// SendTransaction signs and submits a contract call from the connected account.
// value is in native units and may be nil.
func (c *EthClient) SendTransaction(ctx context.Context, method string, value *big.Int, args ...any) (*types.Transaction, error) {
	chainID, err := c.NetworkID(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}
	opts, err := c.wallet.transactor(ctx, chainID, c.contract, method, value)
	if err != nil {
		return nil, err
	}

	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, classifyCallError(err, method)
	}
	c.logger.Info("transaction submitted",
		zap.String("method", method),
		zap.String("hash", tx.Hash().Hex()),
		zap.String("from", opts.From.Hex()),
		zap.String("value", value.String()))
	return tx, nil
}

// WaitForConfirmation blocks until tx is mined. A reverted receipt is ErrTxFailed.
func (c *EthClient) WaitForConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.node, tx)
	if err != nil {
		return nil, classifyCallError(err, "wait mined")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, errors.Wrapf(domain.ErrTxFailed, "tx %s reverted in block %s", tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}

// EthBalance returns the native currency balance of addr.
func (c *EthClient) EthBalance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	wei, err := c.node.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Zero, classifyCallError(err, "get balance")
	}
	return domain.FromNative(wei), nil
}
