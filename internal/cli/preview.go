package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/local/debooklet/internal/imagerender"
)

func newPreviewCommand() *cobra.Command {
	opts := imagerender.DefaultOptions
	var gray bool
	cmd := &cobra.Command{
		Use:   "preview <pdf> <page> <out.jpg>",
		Short: "Render one page of a PDF to JPEG",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("page must be an integer: %w", err)
			}
			if gray {
				opts.Color = imagerender.ColorGray
			}
			res, err := imagerender.RenderFile(args[0], page, opts)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[2], res.JPEG, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%dx%d)\n", args[2], res.Width, res.Height)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.DPI, "dpi", opts.DPI, "render resolution")
	cmd.Flags().IntVar(&opts.Quality, "quality", opts.Quality, "JPEG quality (1-100)")
	cmd.Flags().BoolVar(&gray, "gray", false, "render in grayscale")
	return cmd
}
