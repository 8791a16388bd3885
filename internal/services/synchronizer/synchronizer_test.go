package synchronizer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/clients"
	"github.com/vadiminshakov/tokensync/internal/domain"
	"github.com/vadiminshakov/tokensync/internal/services/network"
	"github.com/vadiminshakov/tokensync/internal/services/probe"
	gatewayMock "github.com/vadiminshakov/tokensync/mocks/gateway"
)

var (
	contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	account  = common.HexToAddress("0xAAAaaAAAaaaAaaaAaaAAAAAAAAaaaAaAaAAaAaAa")
	other    = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func newTestSynchronizer(t *testing.T, gw *gatewayMock.Gateway, probeTimeout time.Duration, opts ...Option) *Synchronizer {
	t.Helper()
	guard := network.NewGuard(big.NewInt(31337), "Localhost 8545")
	s, err := NewSynchronizer(gw, guard, probe.NewProber(gw, zap.NewNop()), contract, probeTimeout, zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func mockGates(gw *gatewayMock.Gateway) {
	gw.On("NetworkID", mock.Anything).Return(big.NewInt(31337), nil)
	gw.On("CodeAt", mock.Anything, contract).Return([]byte{0x60, 0x80, 0x60, 0x40}, nil)
}

func TestSynchronizer_Refresh(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("Account", mock.Anything).Return(account, nil)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).Return([]any{wei("5000000000000000000")}, nil)
	gw.On("EthBalance", mock.Anything, account).Return(decimal.RequireFromString("9.995"), nil)
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("1000000000000000")}, nil)

	s := newTestSynchronizer(t, gw, time.Second)
	snapshot, notices, err := s.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, account, snapshot.Account)
	assert.True(t, snapshot.TokenBalance.Equal(decimal.NewFromInt(5)))
	assert.True(t, snapshot.EthBalance.Equal(decimal.RequireFromString("9.995")))
	assert.True(t, snapshot.TokenPrice.Equal(decimal.RequireFromString("0.001")))

	last, ok := s.Last()
	require.True(t, ok)
	assert.True(t, last.Equal(snapshot))
}

func TestSynchronizer_RefreshIsIdempotent(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).Return([]any{wei("7000000000000000000")}, nil)
	gw.On("EthBalance", mock.Anything, account).Return(decimal.NewFromInt(3), nil)
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("1000000000000000")}, nil)

	s := newTestSynchronizer(t, gw, time.Second)
	first, _, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)
	second, _, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	gw.AssertNotCalled(t, "Account", mock.Anything)
}

func TestSynchronizer_WrongNetworkStopsCycle(t *testing.T) {
	for _, tc := range []struct {
		name string
		id   *big.Int
		err  error
	}{
		{name: "mismatch", id: big.NewInt(1)},
		{name: "identity query failed", err: errors.Wrap(domain.ErrUnreachable, "connection refused")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gw := gatewayMock.NewGateway(t)
			gw.On("NetworkID", mock.Anything).Return(tc.id, tc.err)

			s := newTestSynchronizer(t, gw, time.Second)
			_, notices, err := s.Refresh(context.Background(), &account)
			require.ErrorIs(t, err, domain.ErrWrongNetwork)
			assert.Contains(t, err.Error(), "31337")
			assert.Empty(t, notices)

			gw.AssertNotCalled(t, "CodeAt", mock.Anything, mock.Anything)
			gw.AssertNotCalled(t, "ReadContract", mock.Anything, mock.Anything, mock.Anything)
			gw.AssertNotCalled(t, "ReadContract", mock.Anything, mock.Anything)
			gw.AssertNotCalled(t, "EthBalance", mock.Anything, mock.Anything)
		})
	}
}

func TestSynchronizer_AccountResolutionIsFatal(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	gw.On("Account", mock.Anything).Return(nil, domain.ErrNoAccount)

	s := newTestSynchronizer(t, gw, time.Second)
	_, _, err := s.Refresh(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrNoAccount)
	gw.AssertNotCalled(t, "NetworkID", mock.Anything)
}

func TestSynchronizer_ContractGate(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		gw := gatewayMock.NewGateway(t)
		gw.On("NetworkID", mock.Anything).Return(big.NewInt(31337), nil)
		gw.On("CodeAt", mock.Anything, contract).Return([]byte{}, nil)

		s := newTestSynchronizer(t, gw, time.Second)
		_, _, err := s.Refresh(context.Background(), &account)
		require.ErrorIs(t, err, domain.ErrContractAbsent)
		assert.Contains(t, err.Error(), "redeploy")
		gw.AssertNotCalled(t, "EthBalance", mock.Anything, mock.Anything)
	})

	t.Run("timed out", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		gw := gatewayMock.NewGateway(t)
		gw.On("NetworkID", mock.Anything).Return(big.NewInt(31337), nil)
		gw.On("CodeAt", mock.Anything, contract).Return(func(context.Context, common.Address) ([]byte, error) {
			<-release
			return []byte{0x60}, nil
		})

		s := newTestSynchronizer(t, gw, 20*time.Millisecond)
		_, _, err := s.Refresh(context.Background(), &account)
		require.ErrorIs(t, err, domain.ErrProbeTimedOut)
		assert.NotErrorIs(t, err, domain.ErrContractAbsent)
		assert.Contains(t, err.Error(), "restart")
		gw.AssertNotCalled(t, "EthBalance", mock.Anything, mock.Anything)
	})
}

func TestSynchronizer_StalledFieldReadGivesUp(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).
		Run(func(mock.Arguments) { <-release }).
		Return([]any{wei("1000000000000000000")}, nil)
	gw.On("EthBalance", mock.Anything, account).Return(decimal.NewFromInt(3), nil)
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("1000000000000000")}, nil)

	s := newTestSynchronizer(t, gw, time.Second, WithReadTimeout(50*time.Millisecond))

	type outcome struct {
		snapshot domain.Snapshot
		notices  []domain.Notice
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		snapshot, notices, err := s.Refresh(context.Background(), &account)
		done <- outcome{snapshot, notices, err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh is still waiting on a stalled balanceOf call")
	}

	require.NoError(t, res.err)
	assert.True(t, res.snapshot.TokenBalance.Equal(decimal.Zero))
	assert.True(t, res.snapshot.EthBalance.Equal(decimal.NewFromInt(3)))
	assert.True(t, res.snapshot.TokenPrice.Equal(decimal.RequireFromString("0.001")))
	require.Len(t, res.notices, 1)
	assert.Equal(t, domain.FieldTokenBalance, res.notices[0].Field)
}

func TestSynchronizer_StalledNetworkCheckFailsCycle(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	gw := gatewayMock.NewGateway(t)
	gw.On("NetworkID", mock.Anything).Return(func(context.Context) (*big.Int, error) {
		<-release
		return big.NewInt(31337), nil
	})

	s := newTestSynchronizer(t, gw, time.Second, WithReadTimeout(30*time.Millisecond))
	start := time.Now()
	_, notices, err := s.Refresh(context.Background(), &account)
	require.ErrorIs(t, err, domain.ErrUnreachable)
	assert.Contains(t, err.Error(), "network check")
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, notices)
	gw.AssertNotCalled(t, "CodeAt", mock.Anything, mock.Anything)
}

func TestSynchronizer_StalledEthBalanceKeepsPrevious(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).Return([]any{wei("2000000000000000000")}, nil)
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("1000000000000000")}, nil)
	gw.On("EthBalance", mock.Anything, account).Return(decimal.NewFromInt(7), nil).Once()

	s := newTestSynchronizer(t, gw, time.Second, WithReadTimeout(30*time.Millisecond))
	_, _, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)

	gw.On("EthBalance", mock.Anything, account).
		Run(func(mock.Arguments) { <-release }).
		Return(decimal.NewFromInt(8), nil).Once()

	snapshot, notices, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)
	assert.True(t, snapshot.EthBalance.Equal(decimal.NewFromInt(7)), "eth balance keeps last known value")
	require.Len(t, notices, 1)
	assert.Equal(t, domain.FieldEthBalance, notices[0].Field)
	assert.Equal(t, domain.NoticeError, notices[0].Kind)
}

func TestSynchronizer_PriceFailureKeepsPreviousPrice(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).Return([]any{wei("1000000000000000000")}, nil).Once()
	gw.On("EthBalance", mock.Anything, account).Return(decimal.NewFromInt(10), nil).Once()
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("1000000000000000")}, nil).Once()

	s := newTestSynchronizer(t, gw, time.Second)
	_, _, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)

	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).Return([]any{wei("6000000000000000000")}, nil).Once()
	gw.On("EthBalance", mock.Anything, account).Return(decimal.RequireFromString("9.995"), nil).Once()
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return(nil, errors.Wrap(domain.ErrCallReverted, "tokenPrice")).Once()

	snapshot, notices, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)

	assert.True(t, snapshot.TokenBalance.Equal(decimal.NewFromInt(6)))
	assert.True(t, snapshot.EthBalance.Equal(decimal.RequireFromString("9.995")))
	assert.True(t, snapshot.TokenPrice.Equal(decimal.RequireFromString("0.001")), "price keeps last known value")

	require.Len(t, notices, 1)
	assert.Equal(t, domain.FieldTokenPrice, notices[0].Field)
	assert.Contains(t, notices[0].Message, "price")
}

func TestSynchronizer_FieldFailuresDegradeToZero(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, other).Return(nil, errors.Wrap(domain.ErrCallReverted, "balanceOf"))
	gw.On("EthBalance", mock.Anything, other).Return(decimal.Zero, errors.Wrap(domain.ErrUnreachable, "get balance"))
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("2000000000000000")}, nil)

	s := newTestSynchronizer(t, gw, time.Second)
	snapshot, notices, err := s.Refresh(context.Background(), &other)
	require.NoError(t, err, "field failures never fail the refresh")

	assert.True(t, snapshot.TokenBalance.Equal(decimal.Zero))
	assert.True(t, snapshot.EthBalance.Equal(decimal.Zero))
	assert.True(t, snapshot.TokenPrice.Equal(decimal.RequireFromString("0.002")))

	require.Len(t, notices, 2)
	assert.Equal(t, domain.FieldTokenBalance, notices[0].Field)
	assert.Equal(t, domain.NoticeWarning, notices[0].Kind)
	assert.Equal(t, domain.FieldEthBalance, notices[1].Field)
	assert.Equal(t, domain.NoticeError, notices[1].Kind, "eth balance failure is more severe")
}

func TestSynchronizer_PreviousValuesArePerAccount(t *testing.T) {
	gw := gatewayMock.NewGateway(t)
	mockGates(gw)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, account).Return([]any{wei("4000000000000000000")}, nil)
	gw.On("EthBalance", mock.Anything, account).Return(decimal.NewFromInt(1), nil)
	gw.On("ReadContract", mock.Anything, clients.MethodTokenPrice).Return([]any{wei("1000000000000000")}, nil)
	gw.On("ReadContract", mock.Anything, clients.MethodBalanceOf, other).Return(nil, errors.Wrap(domain.ErrCallReverted, "balanceOf"))
	gw.On("EthBalance", mock.Anything, other).Return(decimal.NewFromInt(2), nil)

	s := newTestSynchronizer(t, gw, time.Second)
	_, _, err := s.Refresh(context.Background(), &account)
	require.NoError(t, err)

	snapshot, notices, err := s.Refresh(context.Background(), &other)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.True(t, snapshot.TokenBalance.Equal(decimal.Zero), "another account's balance is never reused")

	s.Reset()
	_, ok := s.Last()
	assert.False(t, ok)
}
