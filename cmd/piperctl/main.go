package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-piper/internal/audio"
	"github.com/loqalabs/loqa-piper/internal/config"
	"github.com/loqalabs/loqa-piper/internal/logging"
	"github.com/loqalabs/loqa-piper/internal/tts"
	"github.com/spf13/cobra"
)

var (
	Version = "0.1.0-dev"

	configFile string
	engine     string
	model      string
	voice      string
	normalize  bool
	useStub    bool
	outFile    string
	timeout    time.Duration

	logger *slog.Logger
	cfg    config.Config

	rootCmd = &cobra.Command{
		Use:           "piperctl",
		Short:         "Drive the Piper text-to-speech adapter from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(configFile)
			if err != nil {
				return err
			}
			applyFlags(cmd)
			if err := config.ValidateTTS(cfg.TTS); err != nil {
				return err
			}
			logger, _, err = logging.New(cfg.Telemetry, os.Stderr)
			return err
		},
	}

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Report whether a Piper installation can be found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			candidates := cfg.TTS.ProbeCommands
			if tts.LookPathProbe(candidates...)() {
				fmt.Fprintf(cmd.OutOrStdout(), "piper available (searched %s)\n", strings.Join(candidates, ", "))
				return nil
			}
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Close()
			return adapter.Preload(cmd.Context())
		},
	}

	sayCmd = &cobra.Command{
		Use:   "say TEXT...",
		Short: "Synthesize text and discard the audio",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if useStub {
				stub := tts.NewStub(logger)
				stub.Say(text)
				stub.Stop()
				return nil
			}
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return adapter.Say(ctx, text)
		},
	}

	synthCmd = &cobra.Command{
		Use:   "synth TEXT...",
		Short: "Synthesize text into a WAV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outFile == "" {
				return errors.New("--out is required")
			}
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			pcm, err := adapter.Synth(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := writeWAV(outFile, pcm); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d bytes, %s, %s\n", outFile, pcm.Len(), pcm.Duration(), pcm.Format())
			return nil
		},
	}
)

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (defaults plus LOQA_* env when empty)")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "engine: placeholder or exec")
	rootCmd.PersistentFlags().StringVarP(&model, "model", "m", "", "path to the .onnx voice model")
	rootCmd.PersistentFlags().StringVar(&voice, "voice", "", "speaker id for multi-speaker models")
	rootCmd.PersistentFlags().BoolVar(&normalize, "normalize", false, "convert output to 16 kHz mono 16-bit")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "per-request timeout")
	sayCmd.Flags().BoolVar(&useStub, "stub", false, "log the text instead of synthesizing it")
	synthCmd.Flags().StringVarP(&outFile, "out", "o", "", "output WAV path")

	rootCmd.AddCommand(probeCmd, sayCmd, synthCmd)
}

func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.TTS.Engine = engine
	}
	if flags.Changed("model") {
		cfg.TTS.Model = model
	}
	if flags.Changed("voice") {
		cfg.TTS.Voice = voice
	}
	if flags.Changed("normalize") {
		cfg.TTS.Normalize = normalize
	}
}

func newAdapter() (*tts.Adapter, error) {
	return tts.New(cfg.TTS, tts.WithLogger(logger))
}

func writeWAV(path string, pcm audio.PCM) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return audio.EncodeWAV(f, pcm)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
