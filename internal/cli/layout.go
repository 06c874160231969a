package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/local/debooklet/internal/imposition"
)

func newLayoutCommand() *cobra.Command {
	var pages bool
	cmd := &cobra.Command{
		Use:   "layout <totalPages>",
		Short: "Print which logical pages share each booklet sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("totalPages must be an integer: %w", err)
			}
			out := cmd.OutOrStdout()
			if pages {
				positions, err := imposition.Layout(total)
				if err != nil {
					return err
				}
				for i, pos := range positions {
					fmt.Fprintf(out, "Page %2d: sheet %d, %s\n", i+1, pos.SheetIndex, pos.Side())
				}
				return nil
			}
			sheets, err := imposition.Sheets(total)
			if err != nil {
				return err
			}
			for _, s := range sheets {
				fmt.Fprintf(out, "Sheet %d: [LEFT: %2d] [RIGHT: %2d]\n", s.Index, s.Left, s.Right)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pages, "pages", false, "list logical pages in reading order instead of sheets")
	return cmd
}
