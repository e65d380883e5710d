package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imgbatch/internal/api"
	"imgbatch/internal/convert"
	"imgbatch/internal/tui"
)

const formatsTimeout = 5 * time.Second

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported input and output formats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := convert.NewClient(cfg.Converter.URL, cfg.Converter.Timeout)
		printFormats(cmd.Context(), cmd.OutOrStdout(), client)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func printFormats(ctx context.Context, out io.Writer, lister api.FormatLister) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, formatsTimeout)
	defer cancel()

	source := "service"
	formats, err := lister.Formats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("conversion service unavailable, showing built-in formats")
		formats, source = convert.LocalFormats(), "built-in"
	}
	fmt.Fprintln(out, tui.RenderSummary([]tui.SummaryRow{
		{Label: "Input", Value: strings.Join(formats.Input, ", ")},
		{Label: "Output", Value: strings.Join(formats.Output, ", ")},
		{Label: "Source", Value: source},
	}))
}
