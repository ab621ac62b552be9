package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// CLI drives the setup subcommands. Input and output are injected so the
// prompt flow can be tested.
type CLI struct {
	in  *bufio.Reader
	out io.Writer
}

// NewCLI returns a CLI bound to stdin/stdout.
func NewCLI() *CLI {
	return &CLI{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Run dispatches a setup subcommand.
func (c *CLI) Run(args []string) error {
	command := "help"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "wizard":
		return c.wizard()
	case "claude-desktop":
		return c.register(args[1:])
	case "status":
		return c.status()
	case "validate":
		return c.validate()
	case "help", "--help", "-h":
		c.usage()
		return nil
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n\n", command)
		c.usage()
		return nil
	}
}

func (c *CLI) usage() {
	fmt.Fprint(c.out, `Trial matching MCP server setup

Usage:
  mcp-server setup <command> [options]

Commands:
  wizard          Interactive setup (recommended for new users)
  claude-desktop  Register the server with Claude Desktop
                    --binary, -b <path>   server binary to register
                    --data-dir, -d <path> data directory for history and exports
                    --auto, -y            skip the confirmation prompt
  status          Show the current installation report
  validate        Check the installation and list any problems
`)
}

// ask prompts for a value, returning fallback on an empty answer.
func (c *CLI) ask(prompt, fallback string) string {
	fmt.Fprintf(c.out, "%s [%s]: ", prompt, fallback)
	answer, _ := c.in.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallback
	}
	return answer
}

// confirm asks a yes/no question; an empty answer takes the default.
func (c *CLI) confirm(prompt string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	fmt.Fprintf(c.out, "%s %s: ", prompt, hint)
	answer, _ := c.in.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(answer)) {
	case "y", "yes":
		return true
	case "":
		return defaultYes
	default:
		return false
	}
}

func (c *CLI) register(args []string) error {
	var binaryPath, dataDir string
	auto := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--binary", "-b":
			if i+1 < len(args) {
				binaryPath = args[i+1]
				i++
			}
		case "--data-dir", "-d":
			if i+1 < len(args) {
				dataDir = args[i+1]
				i++
			}
		case "--auto", "-y":
			auto = true
		}
	}

	if binaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			binaryPath = execPath
		} else if found, err := FindBinary(); err == nil {
			binaryPath = found
		}
	}

	configPath, err := LocateDesktopConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config file:   %s\n", configPath)
	fmt.Fprintf(c.out, "Server binary: %s\n", binaryPath)
	if dataDir != "" {
		fmt.Fprintf(c.out, "Data dir:      %s\n", dataDir)
	}
	fmt.Fprintln(c.out)

	if !auto && !c.confirm("Proceed with configuration?", true) {
		fmt.Fprintln(c.out, "Configuration cancelled.")
		return nil
	}

	return c.apply(configPath, binaryPath, dataDir)
}

// apply registers the server and prints the post-install instructions.
func (c *CLI) apply(configPath, binaryPath, dataDir string) error {
	cfg, err := LoadDesktopConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Register(binaryPath, dataDir); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}
	if err := EnsureDataDir(dataDir); err != nil {
		fmt.Fprintf(c.out, "Warning: %v\n", err)
	}

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Claude Desktop configured.")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Next steps:")
	fmt.Fprintln(c.out, "  1. Restart Claude Desktop to pick up the new configuration")
	fmt.Fprintln(c.out, `  2. Try: "Find recruiting trials for a patient with type 2 diabetes in Seattle"`)
	return nil
}

func (c *CLI) wizard() error {
	fmt.Fprintln(c.out, "Trial matching MCP server - interactive setup")
	fmt.Fprintln(c.out)

	report := Inspect()
	if report.Registered && !c.confirm("Server is already registered. Reconfigure?", false) {
		fmt.Fprintln(c.out, "Nothing to do. Your server is ready to use.")
		return nil
	}

	execPath, _ := os.Executable()
	binaryPath := c.ask("Server binary path", execPath)
	if _, err := os.Stat(binaryPath); err != nil {
		fmt.Fprintf(c.out, "Warning: binary not found at %s\n", binaryPath)
		if !c.confirm("Continue anyway?", false) {
			return fmt.Errorf("setup cancelled")
		}
	}

	dataDir := c.ask("Data directory", DefaultDataDir())

	configPath := report.ConfigPath
	if configPath == "" {
		var err error
		if configPath, err = LocateDesktopConfig(); err != nil {
			return err
		}
	}
	return c.apply(configPath, binaryPath, dataDir)
}

func (c *CLI) status() error {
	report := Inspect()

	fmt.Fprintf(c.out, "Config path: %s\n", report.ConfigPath)
	fmt.Fprintf(c.out, "Registered:  %s\n", mark(report.Registered))
	if report.Registered {
		fmt.Fprintf(c.out, "Binary:      %s (%s)\n", report.BinaryPath, mark(report.BinaryFound))
	}
	fmt.Fprintf(c.out, "Data dir:    %s (%s)\n", report.DataDir, mark(report.DataDirFound))
	if report.DataDirFound {
		fmt.Fprintf(c.out, "History DB:  %s\n", mark(report.HistoryFound))
	}

	for _, warning := range report.Warnings {
		fmt.Fprintf(c.out, "Note: %s\n", warning)
	}
	for _, problem := range report.Problems {
		fmt.Fprintf(c.out, "Problem: %s\n", problem)
	}
	return nil
}

func (c *CLI) validate() error {
	report := Inspect()

	if report.Healthy() {
		fmt.Fprintln(c.out, "Configuration is valid.")
		for _, warning := range report.Warnings {
			fmt.Fprintf(c.out, "Note: %s\n", warning)
		}
		return nil
	}

	fmt.Fprintln(c.out, "Configuration has problems:")
	for _, problem := range report.Problems {
		fmt.Fprintf(c.out, "  - %s\n", problem)
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}
