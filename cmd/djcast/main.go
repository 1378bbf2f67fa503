package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soundbooth/djcast/internal/app"
	"github.com/soundbooth/djcast/internal/config"
	"github.com/soundbooth/djcast/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		flags      config.Config
	)

	cmd := &cobra.Command{
		Use:   "djcast",
		Short: "Listen along in a DJ room from the command line",
		Long: `djcast connects to a DJ collaborative listening server, joins a
room, reports what is happening there, and streams the room's audio
through a local player.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}

			applyFlags(cmd, &cfg, flags)
			if verbose {
				cfg.LogLevel = "debug"
			}

			logger := log.New(cfg.LogLevel)
			logger.Debug().Str("config", path).Msg("configuration loaded")

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&flags.Host, "host", "", "DJ server host")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "DJ server port")
	cmd.Flags().StringVarP(&flags.Room, "room", "r", "", "short name of the room to join")
	cmd.Flags().BoolVar(&flags.Audio, "audio", true, "stream the room's audio")
	cmd.Flags().StringVar(&flags.AudioDevice, "audio-device", "", "audio device selector passed to the player")
	cmd.Flags().StringVar(&flags.Player, "player", "", "audio player command")
	cmd.Flags().StringVar(&flags.HistoryPath, "history", "", "path to the listening history database")

	return cmd
}

// applyFlags overlays explicitly set flags on the loaded config, so
// flag > env > file > default.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Host = flags.Host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flags.Port
	}
	if cmd.Flags().Changed("room") {
		cfg.Room = flags.Room
	}
	if cmd.Flags().Changed("audio") {
		cfg.Audio = flags.Audio
	}
	if cmd.Flags().Changed("audio-device") {
		cfg.AudioDevice = flags.AudioDevice
	}
	if cmd.Flags().Changed("player") {
		cfg.Player = flags.Player
	}
	if cmd.Flags().Changed("history") {
		cfg.HistoryPath = flags.HistoryPath
	}
}
