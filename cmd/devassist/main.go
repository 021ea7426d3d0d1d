package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"devassist/internal/config"
	"devassist/internal/history"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string
	model      string
	noVoice    bool

	// Logger
	logger *zap.Logger
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var rootCmd = &cobra.Command{
	Use:   "devassist",
	Short: "DevAssist - a voice and text accessible terminal assistant",
	Long: `DevAssist is a terminal assistant built for visually impaired
developers. It accepts instructions by voice or keyboard, turns them
into shell commands or editor operations, runs them with spoken
feedback, and walks you through failures step by step.

Run without arguments to start the interactive session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), "")
	},
}

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Handle a single request and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), strings.Join(args, " "))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent requests and their outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		turns, err := store.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println(dimStyle.Render("No history yet."))
			return nil
		}
		fmt.Println(titleStyle.Render("Recent requests"))
		for _, t := range turns {
			mark := okStyle.Render("ok")
			if !t.Success {
				mark = failStyle.Render("failed")
			}
			fmt.Printf("%s  %-16s %s  %s\n",
				dimStyle.Render(t.At.Local().Format("2006-01-02 15:04")),
				t.Category, mark, t.Query)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the resolved configuration and backend availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("DevAssist status"))
		fmt.Printf("  os:               %s\n", cfg.OS)
		fmt.Printf("  provider:         %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Printf("  api key:          %s\n", presence(cfg.LLM.APIKey != ""))
		fmt.Printf("  voice:            %s\n", voiceStatus(cfg))
		fmt.Printf("  wake phrase:      %q\n", cfg.Speech.WakePhrase)
		fmt.Printf("  command timeout:  %s\n", cfg.Execution.CommandTimeout)
		fmt.Printf("  editor:           %s on %s\n", cfg.Editor.Binary, cfg.Editor.SocketPath)
		fmt.Printf("  history:          %s\n", cfg.HistoryPath)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func presence(ok bool) string {
	if ok {
		return okStyle.Render("set")
	}
	return failStyle.Render("missing")
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.devassist/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Inference API key (or set GEMINI_API_KEY env)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Override the configured model")
	rootCmd.PersistentFlags().BoolVar(&noVoice, "no-voice", false, "Disable speech input and output")

	historyCmd.Flags().Int("limit", 20, "Number of turns to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
