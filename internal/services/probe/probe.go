// Package probe checks that contract code exists before any call is attempted.
package probe

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

// Presence is the outcome of a settled probe.
type Presence int

const (
	Absent Presence = iota
	Present
)

// String returns the string representation of the presence
func (p Presence) String() string {
	if p == Present {
		return "present"
	}
	return "absent"
}

type codeReader interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

type result struct {
	code []byte
	err  error
}

// Prober races a bytecode fetch against a timer.
type Prober struct {
	code   codeReader
	logger *zap.Logger
}

// NewProber creates a Prober.
func NewProber(code codeReader, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{code: code, logger: logger}
}

// Verify reports whether code exists at addr. If the fetch does not settle
// within timeout it returns ErrProbeTimedOut; the fetch itself is not aborted,
// its late result is dropped.
func (p *Prober) Verify(ctx context.Context, addr common.Address, timeout time.Duration) (Presence, error) {
	// buffered so the losing fetch never blocks
	settled := make(chan result, 1)
	go func() {
		code, err := p.code.CodeAt(ctx, addr)
		settled <- result{code: code, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-settled:
		if r.err != nil {
			if errors.Is(r.err, domain.ErrUnreachable) {
				return Absent, r.err
			}
			return Absent, errors.Wrapf(domain.ErrUnreachable, "get code at %s: %s", addr.Hex(), r.err)
		}
		if len(r.code) == 0 {
			p.logger.Warn("no contract code", zap.String("address", addr.Hex()))
			return Absent, nil
		}
		return Present, nil
	case <-timer.C:
		p.logger.Warn("contract probe timed out", zap.String("address", addr.Hex()), zap.Duration("timeout", timeout))
		return Absent, errors.Wrapf(domain.ErrProbeTimedOut, "no answer for %s within %s", addr.Hex(), timeout)
	case <-ctx.Done():
		return Absent, errors.Wrap(ctx.Err(), "contract probe")
	}
}
