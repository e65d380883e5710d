package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imgbatch/internal/bundle"
	"imgbatch/internal/convert"
	fileutil "imgbatch/internal/file"
	"imgbatch/internal/fileset"
	"imgbatch/internal/format"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/progress"
	"imgbatch/internal/resize"
	"imgbatch/internal/tui"
)

type convertOptions struct {
	source     string
	target     string
	quality    int
	percent    int
	width      int
	height     int
	keepAspect bool
	converter  string
	outDir     string
	plain      bool
}

var convertOpts convertOptions

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <files...>",
	Short: "Convert image files through the conversion service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := convertOpts
		if !cmd.Flags().Changed("quality") {
			opts.quality = cfg.DefaultQuality
		}
		if opts.converter == "" {
			opts.converter = cfg.Converter.URL
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		client := convert.NewClient(opts.converter, cfg.Converter.Timeout)
		return runConvert(ctx, cmd.OutOrStdout(), client, args, opts)
	},
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertOpts.source, "source", "s", format.FilterAll, "source format filter (all, png, jpg, gif, webp, heic, raw)")
	f.StringVarP(&convertOpts.target, "to", "t", "", "target format (png, jpg, jpeg, gif, webp)")
	f.IntVarP(&convertOpts.quality, "quality", "q", pipeline.DefaultQuality, "output quality 0..100")
	f.IntVar(&convertOpts.percent, "percent", 0, "resize by percentage")
	f.IntVar(&convertOpts.width, "width", 0, "target width in pixels")
	f.IntVar(&convertOpts.height, "height", 0, "target height in pixels")
	f.BoolVar(&convertOpts.keepAspect, "keep-aspect", true, "maintain aspect ratio when resizing by dimensions")
	f.StringVar(&convertOpts.converter, "converter", "", "conversion service URL (defaults to config)")
	f.StringVarP(&convertOpts.outDir, "out", "o", "converted", "destination folder")
	f.BoolVar(&convertOpts.plain, "plain", false, "log progress lines instead of the progress bar")
	_ = convertCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(ctx context.Context, out io.Writer, conv convert.Converter, paths []string, opts convertOptions) error {
	target, err := format.ParseOutput(opts.target)
	if err != nil {
		return err //nolint:wrapcheck
	}
	filter, err := format.ParseFilter(opts.source)
	if err != nil {
		return err //nolint:wrapcheck
	}
	policy, err := buildPolicy(opts)
	if err != nil {
		return err
	}

	ws := fileset.New()
	candidates, err := readCandidates(paths)
	if err != nil {
		return err
	}
	added, err := ws.Add(candidates, filter)
	if err != nil {
		return fmt.Errorf("%w (filter %s)", err, filter)
	}
	if added.Rejected > 0 || added.Duplicates > 0 {
		log.Warn().Int("rejected", added.Rejected).Int("duplicates", added.Duplicates).Msg("some files were skipped")
	}

	settings := pipeline.Settings{Target: target, Quality: opts.quality, Resize: policy.Parameters()}
	batch, err := pipeline.New(ws.Files(), settings, conv)
	if err != nil {
		return err //nolint:wrapcheck
	}

	var interrupted error
	if opts.plain {
		runPlain(ctx, batch)
	} else {
		interrupted = runInteractive(ctx, batch, fmt.Sprintf("imgbatch → %s", target))
	}

	results := batch.Results()
	written, writeErr := writeOutputs(ctx, opts.outDir, results)

	rows := []tui.SummaryRow{
		{Label: "Converted", Value: fmt.Sprintf("%d / %d", len(results), ws.Len())},
		{Label: "Target", Value: fmt.Sprintf("%s (quality %d)", target, opts.quality)},
		{Label: "Resize", Value: policy.Mode().String()},
	}
	if written != "" {
		rows = append(rows, tui.SummaryRow{Label: "Output", Value: written})
	}
	fmt.Fprintln(out, tui.RenderSummary(rows))

	if err := batch.Err(); err != nil {
		fmt.Fprintln(out, tui.RenderError(err.Error()))
		return err //nolint:wrapcheck
	}
	if interrupted != nil {
		fmt.Fprintln(out, tui.RenderError(interrupted.Error()))
		return interrupted
	}
	if writeErr != nil {
		return writeErr
	}
	fmt.Fprintln(out, tui.RenderSuccess(progress.TerminalMessage))
	return nil
}

func buildPolicy(opts convertOptions) (*resize.Policy, error) {
	policy := resize.NewPolicy()
	usePercent := opts.percent > 0
	useDims := opts.width > 0 || opts.height > 0
	switch {
	case usePercent && useDims:
		return nil, errors.New("--percent cannot be combined with --width/--height")
	case usePercent:
		policy.Select(resize.ModePercentage)
		if err := policy.SetPercentage(&opts.percent); err != nil {
			return nil, err //nolint:wrapcheck
		}
	case useDims:
		policy.Select(resize.ModeDimensions)
		if err := policy.SetDimensions(positive(opts.width), positive(opts.height), opts.keepAspect); err != nil {
			return nil, err //nolint:wrapcheck
		}
	}
	return policy, nil
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func readCandidates(paths []string) ([]fileset.CandidateFile, error) {
	candidates := make([]fileset.CandidateFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // paths come from the command line
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		candidates = append(candidates, fileset.NewCandidate(filepath.Base(path), "", data))
	}
	return candidates, nil
}

func runPlain(ctx context.Context, batch *pipeline.Batch) {
	for state := range batch.Progress(ctx) {
		evt := log.Info()
		if state.Failed {
			evt = log.Error()
		}
		evt.Str("progress", state.Counter()).Str("percent", strconv.FormatFloat(state.Percent(), 'f', 0, 64)+"%").Msg(state.Status)
	}
}

// progressUI is the part of *tea.Program runInteractive needs.
type progressUI interface {
	Run() (tea.Model, error)
}

var newProgressUI = func(m tea.Model) progressUI { return tea.NewProgram(m) }

// errInterrupted is returned when the progress display is closed before the
// batch finishes.
var errInterrupted = errors.New("conversion interrupted")

// runInteractive feeds the batch's progress into a bubbletea program.
// Logging is quietened while the bar owns the terminal. Quitting the
// program abandons the batch; if the program cannot start, progress falls
// back to log lines.
func runInteractive(ctx context.Context, batch *pipeline.Batch, title string) error {
	level := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	restoreLevel := func() { zerolog.SetGlobalLevel(level) }
	defer restoreLevel()

	uiCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan progress.State, 16)
	program := newProgressUI(tui.NewModel(title, updates))

	var runErr error
	uiDone := make(chan struct{})
	go func() {
		_, runErr = program.Run()
		if runErr == nil {
			// user quit or the stream ended; stop any request in flight
			cancel()
		}
		close(uiDone)
	}()

	uiClosed := false
feed:
	for state := range batch.Progress(uiCtx) {
		select {
		case updates <- state:
		case <-uiDone:
			uiClosed = true
			break feed
		}
	}
	close(updates)
	<-uiDone

	if runErr != nil {
		restoreLevel()
		log.Warn().Err(runErr).Msg("progress display unavailable, logging progress instead")
		runPlain(ctx, batch)
		return nil
	}
	if uiClosed && !batch.Done() {
		return errInterrupted
	}
	return nil
}

// writeOutputs writes the single converted file or the archive of all of
// them into dir and returns the written path.
func writeOutputs(ctx context.Context, dir string, results pipeline.ResultSet) (string, error) {
	if len(results.Successes()) == 0 {
		return "", nil
	}
	bundler := bundle.New(bundle.Options{ArchiveName: cfg.ArchiveName})
	dl, err := bundler.RetrieveAll(ctx, results)
	if err != nil {
		return "", fmt.Errorf("bundle results: %w", err)
	}
	dest := filepath.Join(dir, dl.Filename)
	if err := fileutil.WriteBytesAtomic(dest, dl.Data); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if abs, absErr := filepath.Abs(dest); absErr == nil {
		dest = abs
	}
	log.Info().Str("path", dest).Bool("archived", dl.Archived).Msg("output written")
	return dest, nil
}
