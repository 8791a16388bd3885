package clients

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// Token contract methods.
const (
	MethodBalanceOf  = "balanceOf"
	MethodTokenPrice = "tokenPrice"
	MethodBuyTokens  = "buyTokens"
	MethodSellTokens = "sellTokens"
)

const tokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"buyTokens","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"sellTokens","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// TokenABI returns the parsed read/write interface of the token contract.
func TokenABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "parse token ABI")
	}
	return parsed, nil
}
