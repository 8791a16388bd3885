// Package setup holds the interactive terminal pieces: the configuration
// wizard and the wallet approval prompts.
package setup

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tokensync/config"
	"github.com/vadiminshakov/tokensync/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)

	boxStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1)
)

const wizardTitle = "TOKENSYNC CONFIG WIZARD"

// answers collects the raw wizard input.
type answers struct {
	rpcURL       string
	chainID      string
	networkName  string
	contract     string
	probeTimeout string
	dashboard    string
	walDir       string
	autoApprove  bool
}

func defaultAnswers() answers {
	return answers{
		rpcURL:       config.DefaultRPCURL,
		chainID:      fmt.Sprint(config.DefaultChainID),
		networkName:  config.DefaultNetworkName,
		probeTimeout: config.DefaultProbeTimeout.String(),
		dashboard:    config.DefaultDashboardAddr,
		walDir:       config.DefaultWALDir,
	}
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	if path == "" {
		path = config.GeneratedFile
	}
	a := defaultAnswers()
	var confirm bool

	clearScreen()
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point the client at your node and token contract.\n"))

	// node
	fmt.Println(stepStyle.Render("STEP 1: NODE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Node RPC URL").
				Value(&a.rpcURL).
				Validate(nonEmpty("rpc url")),
			huh.NewInput().
				Title("Required chain id").
				Description("Contract calls are refused on any other chain").
				Value(&a.chainID).
				Validate(validateChainID),
			huh.NewInput().
				Title("Network name").
				Description("Shown when the wallet is on the wrong network").
				Value(&a.networkName),
		),
	).Run()
	if err != nil {
		return err
	}

	// contract
	clearScreen()
	fmt.Println(stepStyle.Render("STEP 2: CONTRACT"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Token contract address").
				Description("0x followed by 40 hex characters").
				Value(&a.contract).
				Validate(validateAddress),
			huh.NewInput().
				Title("Contract probe timeout").
				Description("Duration string (e.g. 5s)").
				Value(&a.probeTimeout).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return err
	}

	// surface
	clearScreen()
	fmt.Println(stepStyle.Render("STEP 3: DASHBOARD & WALLET"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Dashboard listen address").
				Value(&a.dashboard),
			huh.NewInput().
				Title("Log directory").
				Value(&a.walDir),
			huh.NewConfirm().
				Title("Approve wallet prompts automatically?").
				Description("Only for local development chains").
				Value(&a.autoApprove),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	clearScreen()
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))
	fmt.Println(boxStyle.Render(summary(a)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	tmp, err := a.toConfig()
	if err != nil {
		return err
	}
	if err := writeConfig(path, tmp); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nPut wallet keys into %s (or .env) and run tokensync -config %s", path, config.PrivateKeysEnv, path)))
	return nil
}

func (a answers) toConfig() (config.ConfigTmp, error) {
	probeTimeout, err := time.ParseDuration(strings.TrimSpace(a.probeTimeout))
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("incorrect probe timeout: %w", err)
	}
	tmp := config.ConfigTmp{
		RPCURL:        strings.TrimSpace(a.rpcURL),
		ChainID:       strings.TrimSpace(a.chainID),
		NetworkName:   strings.TrimSpace(a.networkName),
		Contract:      strings.TrimSpace(a.contract),
		ProbeTimeout:  probeTimeout,
		DashboardAddr: strings.TrimSpace(a.dashboard),
		WALDir:        strings.TrimSpace(a.walDir),
		AutoApprove:   a.autoApprove,
	}
	// reject what the client would refuse to start with
	if _, err := tmp.Convert(); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

func writeConfig(path string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func summary(a answers) string {
	return fmt.Sprintf(
		"RPC: %s\nChain: %s (%s)\nContract: %s\nProbe timeout: %s\nDashboard: %s\nAuto approve: %t\n",
		a.rpcURL, a.chainID, a.networkName, a.contract, a.probeTimeout, a.dashboard, a.autoApprove,
	)
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(wizardTitle))
}

func nonEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}

func validateChainID(s string) error {
	id, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || id.Sign() <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateAddress(s string) error {
	_, err := domain.ParseAddress(s)
	return err
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}
