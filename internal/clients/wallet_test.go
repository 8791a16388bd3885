package clients

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokensync/internal/domain"
)

// well-known hardhat development keys
const (
	devKey0 = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devKey1 = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	devAddr0 = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	devAddr1 = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type stubApprover struct {
	connect  bool
	tx       bool
	requests []TxRequest
}

func (s *stubApprover) ApproveConnect(context.Context, []common.Address) (bool, error) {
	return s.connect, nil
}

func (s *stubApprover) ApproveTransaction(_ context.Context, req TxRequest) (bool, error) {
	s.requests = append(s.requests, req)
	return s.tx, nil
}

func TestNewWallet(t *testing.T) {
	w, err := NewWallet([]string{devKey0, "", devKey1}, nil)
	require.NoError(t, err)
	assert.True(t, w.Present())
	assert.Equal(t, []common.Address{devAddr0, devAddr1}, w.Accounts())

	_, err = NewWallet([]string{"0xnothex"}, nil)
	assert.Error(t, err)

	empty, err := NewWallet(nil, nil)
	require.NoError(t, err)
	assert.False(t, empty.Present())

	var missing *Wallet
	assert.False(t, missing.Present())
}

func TestWallet_RequestAccounts(t *testing.T) {
	approver := &stubApprover{connect: false}
	w, err := NewWallet([]string{devKey0, devKey1}, approver)
	require.NoError(t, err)

	_, ok := w.Selected()
	assert.False(t, ok, "accounts are hidden before connect")

	_, err = w.RequestAccounts(context.Background())
	assert.ErrorIs(t, err, domain.ErrUserRejected)

	approver.connect = true
	accounts, err := w.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devAddr0, accounts[0])

	selected, ok := w.Selected()
	require.True(t, ok)
	assert.Equal(t, devAddr0, selected)

	empty, err := NewWallet(nil, approver)
	require.NoError(t, err)
	_, err = empty.RequestAccounts(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoAccount)
}

func TestWallet_SelectNotifies(t *testing.T) {
	w, err := NewWallet([]string{devKey0, devKey1}, nil)
	require.NoError(t, err)

	// not connected yet: no notification
	require.NoError(t, w.Select(1))
	assert.Len(t, w.Changes(), 0)

	require.NoError(t, w.Select(0))
	_, err = w.RequestAccounts(context.Background())
	require.NoError(t, err)

	require.NoError(t, w.Select(1))
	require.Len(t, w.Changes(), 1)
	assert.Equal(t, devAddr1, <-w.Changes())

	// same account again is not a change
	require.NoError(t, w.Select(1))
	assert.Len(t, w.Changes(), 0)

	assert.Error(t, w.Select(5))
}

func TestWallet_TransactorAsksApprover(t *testing.T) {
	approver := &stubApprover{connect: true, tx: false}
	w, err := NewWallet([]string{devKey0}, approver)
	require.NoError(t, err)

	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	chainID := big.NewInt(31337)

	_, err = w.transactor(context.Background(), chainID, contract, MethodBuyTokens, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrNoAccount, "signing requires a connected account")

	_, err = w.RequestAccounts(context.Background())
	require.NoError(t, err)

	opts, err := w.transactor(context.Background(), chainID, contract, MethodBuyTokens, big.NewInt(5_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, devAddr0, opts.From)
	assert.Equal(t, "5000000000000000", opts.Value.String())

	tx := types.NewTx(&types.LegacyTx{Nonce: 0, To: &contract, Value: opts.Value, Gas: 100000, GasPrice: big.NewInt(1)})
	_, err = opts.Signer(opts.From, tx)
	assert.ErrorIs(t, err, domain.ErrUserRejected)
	require.Len(t, approver.requests, 1)
	assert.Equal(t, MethodBuyTokens, approver.requests[0].Method)

	approver.tx = true
	signed, err := opts.Signer(opts.From, tx)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, devAddr0, sender)
}

func TestGenerateKey(t *testing.T) {
	addr, key, err := GenerateKey()
	require.NoError(t, err)

	w, err := NewWallet([]string{key}, nil)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr}, w.Accounts())
}
