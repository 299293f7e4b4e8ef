package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"inspectwatch/config"
	"inspectwatch/database"
	inserrors "inspectwatch/errors"
	"inspectwatch/imageprocessor"
	"inspectwatch/inference"
	"inspectwatch/lifecycle"
	"inspectwatch/logging"
	"inspectwatch/palette"
	"inspectwatch/signalhandler"
	"inspectwatch/types"
	"inspectwatch/utils"

	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitConfig            = 2
	exitEngineUnavailable = 3
)

type watchOptions struct {
	configPath string
	folder     string
	model      string
	debug      bool
	logFile    string
}

func main() {
	root := &cobra.Command{
		Use:           "inspectwatch",
		Short:         "Inspect images dropped into a folder and track palette quality",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newWatchCommand(), newStatusCommand(), newPositionsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch inserrors.GetCode(err) {
	case inserrors.ErrCodeEngineUnavailable:
		return exitEngineUnavailable
	case inserrors.ErrCodeConfigInvalid, inserrors.ErrCodeConfigNotFound:
		return exitConfig
	default:
		return 1
	}
}

func newWatchCommand() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the configured folder and inspect every new image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return handleWatchCommand(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML or JSON configuration")
	cmd.Flags().StringVar(&opts.folder, "folder", "", "Override watch_single_folder_path")
	cmd.Flags().StringVar(&opts.model, "model", "", "Override initial_model_path")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.logFile, "logfile", "", "Also write logs to this file")
	return cmd
}

func loadConfig(opts watchOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = utils.GetDefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		// Without an explicit --config the defaults plus flags are enough
		if opts.configPath != "" || !inserrors.Is(err, inserrors.ErrCodeConfigNotFound) {
			return nil, err
		}
		logging.LogWarning("No configuration at %s, using defaults", path)
		cfg = config.Default()
	}

	if opts.folder != "" {
		cfg.WatchFolder = opts.folder
	}
	if opts.model != "" {
		cfg.ModelPath = opts.model
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
	}
	return cfg, nil
}

func handleWatchCommand(parent context.Context, opts watchOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err := logging.Configure(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Debug:  opts.debug,
	}); err != nil {
		fmt.Printf("Warning: Failed to setup logging: %v\n", err)
	}
	defer logging.CloseLogger()

	if err := cfg.Validate(); err != nil {
		logging.LogError("Invalid configuration: %v", err)
		return err
	}
	for _, w := range cfg.Warnings() {
		logging.LogWarning("%s", w)
	}

	// Verify folder path exists and is accessible
	info, err := os.Stat(cfg.WatchFolder)
	if err != nil {
		return inserrors.ConfigInvalid(fmt.Sprintf("cannot access watch folder %s: %v", cfg.WatchFolder, err))
	}
	if !info.IsDir() {
		return inserrors.ConfigInvalid(fmt.Sprintf("watch folder is not a directory: %s", cfg.WatchFolder))
	}

	loader := &inference.PythonLoader{
		Command:        cfg.Engine.Command,
		Args:           cfg.Engine.Args,
		ModelPath:      cfg.ModelPath,
		StartupTimeout: cfg.Engine.StartupTimeout,
		RequestTimeout: cfg.Engine.RequestTimeout,
	}

	coordinator, err := lifecycle.New(lifecycle.Options{
		Config: cfg,
		Loader: loader,
		Codec:  imageprocessor.NewCodec(cfg.Plotting.BorderThickness),
	})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signalhandler.SetupHandler(parent)
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		coordinator.Stop()
		logging.LogError("Cannot start inspection: %v", err)
		return err
	}

	// A signal halts the session through Stop; the image in progress is finished
	go func() {
		<-ctx.Done()
		logging.LogInfo("Stopping after the image in progress")
		coordinator.Stop()
	}()

	runErr := coordinator.Wait()
	if err := coordinator.Stop(); err != nil && runErr == nil {
		runErr = err
	}

	s := coordinator.Stats()
	c := coordinator.Counters()
	logging.LogInfo("Inspected %d images (%d corrupt, %d failed, %d unrecognized); OK %d, NOK %d",
		s.Processed, s.Corrupt, s.Failed, s.Fallbacks, c.OK, c.NOK)
	return runErr
}

func newStatusCommand() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the palette and counters persisted by the last session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return handleStatusCommand(dbPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "database", utils.GetDefaultDatabasePath(), "Path to the session database")
	return cmd
}

func handleStatusCommand(dbPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no session database at %s", dbPath)
	}

	db, err := database.OpenDatabase(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := database.LoadSnapshot(db)
	if err != nil {
		return err
	}

	s := snap.Session
	fmt.Printf("Session:   %s\n", s.ID)
	fmt.Printf("Started:   %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Folder:    %s\n", s.WatchFolder)
	fmt.Printf("Model:     %s\n", s.Model)
	fmt.Printf("Palettes:  %d completed\n", s.PalettesCompleted)
	fmt.Printf("Total: %d  OK: %d (%.1f%%)  NOK: %d (%.1f%%)\n",
		snap.Counters.Total, snap.Counters.OK, snap.Counters.OKPercent, snap.Counters.NOK, snap.Counters.NOKPercent)

	fmt.Printf("\nCurrent palette (%d/%d):\n", len(snap.Cells), s.TotalPieces)
	fmt.Print(renderPalette(snap.Cells, s.Rows, s.Columns))
	return nil
}

// renderPalette draws the grid with O for ok, X for nok and . for empty cells
func renderPalette(cells types.GridSnapshot, rows, columns int) string {
	filled := cells.Map()
	var b strings.Builder
	for r := 0; r < rows; r++ {
		marks := make([]string, columns)
		for c := 0; c < columns; c++ {
			switch filled[types.CellPosition{Row: r, Column: c}] {
			case types.StatusOK:
				marks[c] = "O"
			case types.StatusNOK:
				marks[c] = "X"
			default:
				marks[c] = "."
			}
		}
		b.WriteString(strings.Join(marks, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

func newPositionsCommand() *cobra.Command {
	var rows, columns int
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Print the order in which palette cells are filled",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows <= 0 || columns <= 0 {
				return inserrors.ConfigInvalid("rows and columns must be positive")
			}
			for i, p := range palette.Positions(rows, columns) {
				fmt.Printf("%3d %s\n", i+1, p)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 2, "Palette rows")
	cmd.Flags().IntVar(&columns, "columns", 3, "Palette columns")
	return cmd
}
