// Command swctl is a small operator CLI over the LibAtem client: a live
// terminal dashboard and a one-shot command sender, covering only the
// handful of command types registered in pkg/swcommands.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jaskie/LibAtem"
	"github.com/jaskie/LibAtem/pkg/swcommands"
	"github.com/jaskie/LibAtem/pkg/swtui"
)

var (
	address string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "swctl",
	Short: "swctl — operator CLI for the switcher control client",
	Long: `swctl is a small demonstration CLI over the LibAtem networking
core. It understands only the handful of command types registered in
pkg/swcommands; production integrations register their own full set.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if address == "" {
			return fmt.Errorf("--address is required")
		}
		atem.Debug = debug
		return nil
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the interactive TUI dashboard",
	Long: `Launch an interactive terminal dashboard showing session state,
protocol version, smoothed RTT, outbound backlog, and a log of recently
received commands.

Key bindings:
  q / Ctrl+C   Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard(address)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Connect, send one program-input cut, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := cmd.Flags().GetInt("me")
		if err != nil {
			return err
		}
		input, err := cmd.Flags().GetInt("input")
		if err != nil {
			return err
		}
		return runSend(address, uint8(me), uint16(input))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&address, "address", "", "switcher address, host or host:port (default port 9910)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable protocol-level debug logging")

	sendCmd.Flags().Int("me", 0, "mix effect bus index")
	sendCmd.Flags().Int("input", 1, "input number to cut the program bus to")

	rootCmd.AddCommand(dashboardCmd, sendCmd)
}

func runDashboard(address string) error {
	registry := atem.NewCodecRegistry()
	swcommands.Register(registry)

	client, err := atem.NewClient(address, false, registry, nil, atem.DefaultConfig())
	if err != nil {
		return fmt.Errorf("construct client: %w", err)
	}
	defer client.Dispose()

	model := swtui.New(address, client)
	program := tea.NewProgram(model, tea.WithAltScreen())

	client.OnConnected(swtui.SendConnected(program))
	client.OnDisconnected(swtui.SendDisconnected(program))
	client.OnReceive(swtui.SendReceived(program))

	client.Connect()

	_, err = program.Run()
	return err
}

func runSend(address string, me uint8, input uint16) error {
	registry := atem.NewCodecRegistry()
	swcommands.Register(registry)

	client, err := atem.NewClient(address, true, registry, nil, atem.DefaultConfig())
	if err != nil {
		return fmt.Errorf("construct client: %w", err)
	}
	defer client.Dispose()

	connected := make(chan struct{}, 1)
	client.OnConnected(func() { connected <- struct{}{} })

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for handshake with %s", address)
	}

	cmd := &swcommands.ProgramInputChange{MixEffectIndex: me, Input: input}
	if err := client.SendCommand(cmd); err != nil {
		return err
	}

	// Give the outbound worker a moment to actually flush the datagram
	// before the process exits and tears the socket down.
	deadline := time.Now().Add(2 * time.Second)
	for client.HasQueuedOutbound() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("sent program input cut: ME=%d input=%d\n", me, input)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
