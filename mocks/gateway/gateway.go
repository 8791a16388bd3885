// Package gateway provides a testify mock of the node and wallet gateway.
package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// Gateway is a mock type for the gateway consumed by services.
type Gateway struct {
	mock.Mock
}

// NewGateway creates a mock and registers expectation assertions on cleanup.
func NewGateway(t interface {
	mock.TestingT
	Cleanup(func())
}) *Gateway {
	m := &Gateway{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// HasWallet provides a mock function.
func (_m *Gateway) HasWallet() bool {
	ret := _m.Called()
	if rf, ok := ret.Get(0).(func() bool); ok {
		return rf()
	}
	return ret.Bool(0)
}

// NetworkID provides a mock function.
func (_m *Gateway) NetworkID(ctx context.Context) (*big.Int, error) {
	ret := _m.Called(ctx)
	if rf, ok := ret.Get(0).(func(context.Context) (*big.Int, error)); ok {
		return rf(ctx)
	}
	var r0 *big.Int
	if v := ret.Get(0); v != nil {
		r0 = v.(*big.Int)
	}
	return r0, ret.Error(1)
}

// RequestAccounts provides a mock function.
func (_m *Gateway) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	ret := _m.Called(ctx)
	var r0 []common.Address
	if v := ret.Get(0); v != nil {
		r0 = v.([]common.Address)
	}
	return r0, ret.Error(1)
}

// Account provides a mock function.
func (_m *Gateway) Account(ctx context.Context) (common.Address, error) {
	ret := _m.Called(ctx)
	var r0 common.Address
	if v := ret.Get(0); v != nil {
		r0 = v.(common.Address)
	}
	return r0, ret.Error(1)
}

// CodeAt provides a mock function.
func (_m *Gateway) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	ret := _m.Called(ctx, addr)
	if rf, ok := ret.Get(0).(func(context.Context, common.Address) ([]byte, error)); ok {
		return rf(ctx, addr)
	}
	var r0 []byte
	if v := ret.Get(0); v != nil {
		r0 = v.([]byte)
	}
	return r0, ret.Error(1)
}

// ReadContract provides a mock function.
func (_m *Gateway) ReadContract(ctx context.Context, method string, args ...any) ([]any, error) {
	_ca := []any{ctx, method}
	_ca = append(_ca, args...)
	ret := _m.Called(_ca...)
	var r0 []any
	if v := ret.Get(0); v != nil {
		r0 = v.([]any)
	}
	return r0, ret.Error(1)
}

// SendTransaction provides a mock function.
func (_m *Gateway) SendTransaction(ctx context.Context, method string, value *big.Int, args ...any) (*types.Transaction, error) {
	_ca := []any{ctx, method, value}
	_ca = append(_ca, args...)
	ret := _m.Called(_ca...)
	var r0 *types.Transaction
	if v := ret.Get(0); v != nil {
		r0 = v.(*types.Transaction)
	}
	return r0, ret.Error(1)
}

// WaitForConfirmation provides a mock function.
func (_m *Gateway) WaitForConfirmation(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ret := _m.Called(ctx, tx)
	if rf, ok := ret.Get(0).(func(context.Context, *types.Transaction) (*types.Receipt, error)); ok {
		return rf(ctx, tx)
	}
	var r0 *types.Receipt
	if v := ret.Get(0); v != nil {
		r0 = v.(*types.Receipt)
	}
	return r0, ret.Error(1)
}

// EthBalance provides a mock function.
func (_m *Gateway) EthBalance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	ret := _m.Called(ctx, addr)
	var r0 decimal.Decimal
	if v := ret.Get(0); v != nil {
		r0 = v.(decimal.Decimal)
	}
	return r0, ret.Error(1)
}
