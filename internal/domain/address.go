package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ParseAddress validates a 0x-prefixed 20-byte hex string. Case is ignored.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, errors.Errorf("address %q must start with 0x", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("address %q is not a 20-byte hex string", s)
	}
	return common.HexToAddress(s), nil
}
