// padgen generates one-time-pad files. Entropy can come from any
// readable device or file, typically a hardware RNG; without one it
// falls back to the operating system's CSPRNG.
package main

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/padrelay/pad"
)

type genConfig struct {
	EntropyPath string
	Pages       int
	PageLength  int
	OutputPath  string
}

func newRootCommand() *cobra.Command {
	var cfg genConfig

	cmd := &cobra.Command{
		Use:   "padgen",
		Short: "Generate a one-time-pad file",
		Long: `padgen writes a pad file of newline-delimited records, each an
8-character page identifier followed by the page content. The two
devices that will communicate must receive identical copies over a
trusted path, never through the relay.

Pad quality is only as good as its entropy source. Point --entropy at
a hardware RNG device such as /dev/hwrng when one is available.`,
		Example: `  # 500 pages of 3500 characters from a hardware RNG
  padgen --entropy /dev/hwrng --pages 500 --out cipher.txt

  # Fall back to the OS CSPRNG
  padgen --pages 500 --out cipher.txt`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.EntropyPath, "entropy", "e", "",
		"entropy source device or file; empty uses the OS CSPRNG")
	cmd.Flags().IntVarP(&cfg.Pages, "pages", "n", 500,
		"number of pad pages to generate")
	cmd.Flags().IntVarP(&cfg.PageLength, "length", "l", pad.DefaultPageLength,
		"content characters per page")
	cmd.Flags().StringVarP(&cfg.OutputPath, "out", "o", pad.CipherFileName,
		"output pad file path")

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cfg genConfig) error {
	var entropy io.Reader = rand.Reader
	if cfg.EntropyPath != "" {
		src, err := os.Open(cfg.EntropyPath)
		if err != nil {
			return fmt.Errorf("failed to open entropy source: %v", err)
		}
		defer src.Close()
		entropy = src
		logrus.WithField("source", cfg.EntropyPath).Info("using external entropy source")
	}

	// Refuse to clobber an existing pad: a reused or replaced pad
	// breaks the one-time property.
	out, err := os.OpenFile(cfg.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create pad file: %v", err)
	}

	if err := pad.Generate(out, entropy, cfg.Pages, cfg.PageLength); err != nil {
		out.Close()
		os.Remove(cfg.OutputPath)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync pad file: %v", err)
	}
	return out.Close()
}
