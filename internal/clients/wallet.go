package clients

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokensync/internal/domain"
)

// TxRequest describes a transaction the wallet is asked to sign.
type TxRequest struct {
	From    common.Address
	To      common.Address
	Method  string
	Value   *big.Int
	ChainID *big.Int
}

// Approver confirms wallet actions on behalf of the user.
type Approver interface {
	ApproveConnect(ctx context.Context, accounts []common.Address) (bool, error)
	ApproveTransaction(ctx context.Context, req TxRequest) (bool, error)
}

// AutoApprover approves everything. Used in headless mode.
type AutoApprover struct{}

func (AutoApprover) ApproveConnect(context.Context, []common.Address) (bool, error) { return true, nil }
func (AutoApprover) ApproveTransaction(context.Context, TxRequest) (bool, error)   { return true, nil }

// Wallet is a key-backed account holder. Accounts are exposed only after a
// successful RequestAccounts, the same way an injected browser wallet behaves.
type Wallet struct {
	mu        sync.RWMutex
	keys      []*ecdsa.PrivateKey
	accounts  []common.Address
	selected  int
	connected bool
	approver  Approver
	changes   chan common.Address
}

// NewWallet builds a wallet from hex private keys (with or without 0x prefix).
func NewWallet(hexKeys []string, approver Approver) (*Wallet, error) {
	if approver == nil {
		approver = AutoApprover{}
	}
	w := &Wallet{
		approver: approver,
		changes:  make(chan common.Address, 8),
	}
	for i, raw := range hexKeys {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
			key = key[2:]
		}
		privateKey, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, errors.Wrapf(err, "parse private key #%d", i)
		}
		w.keys = append(w.keys, privateKey)
		w.accounts = append(w.accounts, crypto.PubkeyToAddress(privateKey.PublicKey))
	}
	return w, nil
}

// Present reports whether the wallet holds at least one key.
func (w *Wallet) Present() bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.keys) > 0
}

// Accounts returns all addresses the wallet controls.
func (w *Wallet) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, len(w.accounts))
	copy(out, w.accounts)
	return out
}

// RequestAccounts asks the user to expose accounts. The selected account comes first.
func (w *Wallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	accounts := w.Accounts()
	if len(accounts) == 0 {
		return nil, domain.ErrNoAccount
	}

	ok, err := w.approver.ApproveConnect(ctx, accounts)
	if err != nil {
		return nil, errors.Wrap(err, "connect prompt")
	}
	if !ok {
		return nil, errors.Wrap(domain.ErrUserRejected, "connect declined")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	ordered := make([]common.Address, 0, len(w.accounts))
	ordered = append(ordered, w.accounts[w.selected])
	for i, a := range w.accounts {
		if i != w.selected {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// Selected returns the active account once connected.
func (w *Wallet) Selected() (common.Address, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected || len(w.accounts) == 0 {
		return common.Address{}, false
	}
	return w.accounts[w.selected], true
}

// Select switches the active account and notifies subscribers.
func (w *Wallet) Select(i int) error {
	w.mu.Lock()
	if i < 0 || i >= len(w.accounts) {
		w.mu.Unlock()
		return errors.Errorf("account index %d out of range [0,%d)", i, len(w.accounts))
	}
	changed := w.selected != i
	w.selected = i
	account := w.accounts[i]
	connected := w.connected
	w.mu.Unlock()

	if changed && connected {
		select {
		case w.changes <- account:
		default:
			// drop if nobody is listening
		}
	}
	return nil
}

// Changes streams account switches.
func (w *Wallet) Changes() <-chan common.Address {
	return w.changes
}

// Disconnect hides accounts until the next RequestAccounts.
func (w *Wallet) Disconnect() {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
}

// transactor builds signing options for the selected account. Signing asks the approver first.
func (w *Wallet) transactor(ctx context.Context, chainID *big.Int, to common.Address, method string, value *big.Int) (*bind.TransactOpts, error) {
	w.mu.RLock()
	if !w.connected || len(w.keys) == 0 {
		w.mu.RUnlock()
		return nil, domain.ErrNoAccount
	}
	key := w.keys[w.selected]
	from := w.accounts[w.selected]
	w.mu.RUnlock()

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "create transactor")
	}
	sign := opts.Signer
	opts.Context = ctx
	opts.Value = value
	opts.Signer = func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		ok, err := w.approver.ApproveTransaction(ctx, TxRequest{
			From:    from,
			To:      to,
			Method:  method,
			Value:   value,
			ChainID: chainID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "transaction prompt")
		}
		if !ok {
			return nil, errors.Wrapf(domain.ErrUserRejected, "%s declined", method)
		}
		return sign(addr, tx)
	}
	return opts, nil
}

// GenerateKey creates a fresh account, returning its address and hex private key.
func GenerateKey() (common.Address, string, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, "", errors.Wrap(err, "generate key")
	}
	return crypto.PubkeyToAddress(privateKey.PublicKey), "0x" + common.Bytes2Hex(crypto.FromECDSA(privateKey)), nil
}
