package setup

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vadiminshakov/tokensync/internal/clients"
	"github.com/vadiminshakov/tokensync/internal/domain"
)

// PromptApprover asks on the terminal before the wallet exposes accounts or signs.
type PromptApprover struct {
	confirm func(ctx context.Context, title, description string) (bool, error)
}

// NewPromptApprover creates an approver backed by huh confirm prompts.
func NewPromptApprover() *PromptApprover {
	return &PromptApprover{confirm: huhConfirm}
}

// ApproveConnect implements clients.Approver.
func (p *PromptApprover) ApproveConnect(ctx context.Context, accounts []common.Address) (bool, error) {
	if len(accounts) == 0 {
		return false, nil
	}
	return p.confirm(ctx, "Connect wallet?", fmt.Sprintf("Expose account %s to tokensync", accounts[0].Hex()))
}

// ApproveTransaction implements clients.Approver.
func (p *PromptApprover) ApproveTransaction(ctx context.Context, req clients.TxRequest) (bool, error) {
	return p.confirm(ctx, fmt.Sprintf("Sign %s?", req.Method), describeTx(req))
}

func describeTx(req clients.TxRequest) string {
	return boxStyle.Render(fmt.Sprintf("From: %s\nTo: %s\nValue: %s ETH\nChain: %s",
		req.From.Hex(), req.To.Hex(), domain.FromNative(req.Value).String(), req.ChainID))
}

func huhConfirm(ctx context.Context, title, description string) (bool, error) {
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(lipgloss.NewStyle().Bold(true).Render(title)).
				Description(description).
				Affirmative("Approve").
				Negative("Reject").
				Value(&ok),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}
	return ok, nil
}
