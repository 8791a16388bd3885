package clients

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokensync/internal/domain"
)

// classifyCallError maps a transport or EVM error onto the domain taxonomy.
func classifyCallError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrUserRejected) {
		return errors.Wrap(err, op)
	}

	if errors.Is(err, bind.ErrNoCode) {
		return errors.Wrapf(domain.ErrContractAbsent, "%s: %s", op, err)
	}

	s := err.Error()
	switch {
	case strings.Contains(s, "reverted"):
		return errors.Wrapf(domain.ErrCallReverted, "%s: %s", op, revertReason(s))
	default:
		// transport errors, timeouts and anything the node could not answer
		return errors.Wrapf(domain.ErrUnreachable, "%s: %s", op, s)
	}
}

func revertReason(s string) string {
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}

// RetryableDialError reports whether a failed dial may succeed on a later attempt.
func RetryableDialError(err error) bool {
	return err != nil && !strings.Contains(err.Error(), "no known transport")
}
