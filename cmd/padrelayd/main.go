// padrelayd is the relay daemon. It forwards opaque ciphertext
// envelopes and encrypted voice frames between connected identities
// and never holds keys or pad material.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/padrelay/config"
	"github.com/opd-ai/padrelay/relay"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "padrelayd",
		Short: "One-time-pad messaging relay daemon",
		Long: `padrelayd accepts TCP connections from messaging clients, binds each
to a claimed identity, and routes ciphertext envelopes, voice-room
control frames and encrypted audio between them.

The relay is untrusted by design: every payload that crosses it is
already encrypted on the sending device, and nothing is queued for
offline recipients.`,
		Example: `  # Start the relay with its configuration file
  padrelayd -f /etc/padrelay/relay.toml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "f", "padrelay.toml",
		"path to the relay configuration file (TOML format)")

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	if cfg.Server == nil {
		return errors.New("config file has no [Server] section")
	}

	closeLog, err := cfg.Logging.Apply()
	if err != nil {
		return err
	}
	if closeLog != nil {
		defer closeLog()
	}

	srv := relay.NewServer(relay.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		MaxFrameSize:   cfg.Server.MaxFrameSize,
		StatusInterval: cfg.Server.StatusInterval(),
	})
	if err := srv.Start(); err != nil {
		return err
	}

	// Halt gracefully on SIGINT/SIGTERM.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	sig := <-haltCh

	logrus.WithField("signal", sig.String()).Info("shutting down")
	srv.Stop()
	return nil
}
