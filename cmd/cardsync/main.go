package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/cardsync/internal/config"
	"github.com/openmined/cardsync/internal/utils"
	"github.com/openmined/cardsync/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

const banner = `
  ___ __ _ _ __ __| |___ _   _ _ __   ___
 / __/ _' | '__/ _' / __| | | | '_ \ / __|
| (_| (_| | | | (_| \__ \ |_| | | | | (__
 \___\__,_|_|  \__,_|___/\__, |_| |_|\___|
                         |___/`

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:     "cardsync",
	Short:   "Mirror knowledge base collections into a GitHub repository",
	Version: version.Detailed(),
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "cardsync config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug messages")
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging sends logs to the console and to a rotating log file.
func setupLogging(logFile string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}

	consoleHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(rotator)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)))
	logCloser = closers{logInterceptor, rotator}
	return nil
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, closer := range c {
		if err := closer.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func showBanner(cmd *cobra.Command) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return
	}
	color.New(color.FgHiCyan, color.Bold).Fprintln(cmd.OutOrStdout(), banner)
}
