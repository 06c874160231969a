package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/local/debooklet/internal/config"
	"github.com/local/debooklet/internal/logger"
)

// globalFlags holds persistent flags and the configuration they produce.
type globalFlags struct {
	envFile string
	verbose bool
	cfg     config.Config
}

// NewCommand returns the root command. With exactly two arguments it behaves
// like "convert".
func NewCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "debooklet <input.pdf> <output.pdf>",
		Short: "Convert booklet PDF back to normal page order",
		Long: "debooklet takes a scanned saddle-stitch booklet (one sheet per PDF page, " +
			"two logical pages side by side) and writes a PDF with one logical page per " +
			"page in reading order.",
		Example: "  debooklet booklet.pdf normal.pdf\n" +
			"  debooklet convert s3://scans/booklet.pdf out/normal.pdf\n" +
			"  debooklet layout 16",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("you must provide both input and output PDF file paths")
			}
			return nil
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runConvert(cmd, g, args[0], args[1], 0)
		},
	}
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newConvertCommand(g))
	cmd.AddCommand(newLayoutCommand())
	cmd.AddCommand(newServeCommand(g))
	cmd.AddCommand(newPreviewCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Run executes the root command, cancelling its context on SIGINT/SIGTERM.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewCommand().ExecuteContext(ctx)
}

// setup loads configuration and initializes logging. Only the server writes
// the rotating log file and ships to Axiom; one-shot commands log to stderr.
func (g *globalFlags) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return err
	}
	g.cfg = config.FromEnv()

	opts := logger.OptionsFromConfig(g.cfg.Logging, g.cfg.Axiom)
	opts.Console = cmd.ErrOrStderr()
	if cmd.Name() != "serve" {
		opts.File = ""
		opts.SendToAxiom = false
		opts.Pretty = true
	}
	if g.verbose {
		opts.Level = "debug"
	}
	return logger.Init(opts)
}
