package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dkeye/Avatar/internal/adapters/assistant"
	"github.com/dkeye/Avatar/internal/adapters/playback"
	"github.com/dkeye/Avatar/internal/adapters/relay"
	"github.com/dkeye/Avatar/internal/adapters/rtc"
	"github.com/dkeye/Avatar/internal/app"
	"github.com/dkeye/Avatar/internal/app/media"
	"github.com/dkeye/Avatar/internal/app/session"
	"github.com/dkeye/Avatar/internal/config"
	"github.com/dkeye/Avatar/internal/core"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// wordSepNormalizeFunc lets --relay-url and --relay_url name the same key.
func wordSepNormalizeFunc(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "avatar",
		Short:        "Talk to a streaming avatar through the relay",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.SetNormalizeFunc(wordSepNormalizeFunc)
	pf.String("relay-url", "", "base URL of the relay")
	pf.StringSlice("ice-servers", nil, "ICE server URLs")
	pf.Duration("relay-timeout", 0, "timeout for each relay call")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newConnectCmd(), newAskCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	config.SetLogLevel(cfg.LogLevel)
	return cfg, nil
}

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an avatar session and record its media until interrupted",
		RunE:  runConnect,
	}
	cmd.Flags().SetNormalizeFunc(wordSepNormalizeFunc)
	cmd.Flags().Duration("grace-period", 0, "how long a disconnection may last before the session fails")
	cmd.Flags().String("output.dir", "", "directory for recorded media")
	cmd.Flags().Bool("output.autoplay", false, "start recording without waiting for Enter")
	return cmd
}

func runConnect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	client := relay.New(cfg.RelayURL, cfg.RelayTimeout)
	avatar := &app.Avatar{
		Config: session.Config{
			ICEServers:   rtc.ICEConfiguration(cfg.ICEServers).ICEServers,
			RelayTimeout: cfg.RelayTimeout,
			GracePeriod:  cfg.GracePeriod,
		},
		Relay:   client,
		NewPeer: rtc.NewFactory(api, "avatar"),
		NewSurface: func() media.Surface {
			name := "avatar-" + time.Now().Format("20060102-150405")
			return playback.NewRecorder(cfg.Output.Dir, cfg.Output.Autoplay, name)
		},
	}

	s, err := avatar.Activate()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	s.Subscribe(func(t core.Transition) {
		fmt.Fprintf(out, "session %s: %s -> %s\n", s.ID(), t.From, t.To)
	})

	go func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if err := avatar.ResumePlayback(); err != nil {
				fmt.Fprintf(out, "playback: %v\n", err)
				continue
			}
			if s.Sink().Playing() {
				fmt.Fprintln(out, "playing")
			}
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case <-s.Done():
		runErr = s.Err()
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.RelayTimeout)
	defer closeCancel()
	if err := avatar.Deactivate(closeCtx); err != nil {
		log.Warn().Err(err).Msg("deactivate")
	}
	return runErr
}

func newAskCmd() *cobra.Command {
	var prompt, audio, speak string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Send a prompt or a recorded question to the assistant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if prompt == "" && audio == "" {
				return errors.New("one of --prompt or --audio is required")
			}
			return runAsk(cmd.Context(), cmd, assistant.New(cfg.RelayURL, cfg.RelayTimeout), prompt, audio, speak)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "question text")
	cmd.Flags().StringVarP(&audio, "audio", "a", "", "audio file to transcribe first")
	cmd.Flags().StringVarP(&speak, "speak", "s", "", "write the spoken reply (MP3) to this file")
	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, a core.Assistant, prompt, audio, speak string) error {
	if audio != "" {
		data, err := os.ReadFile(audio)
		if err != nil {
			return err
		}
		text, err := a.TranscribeAudio(ctx, filepath.Base(audio), data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "you: %s\n", text)
		prompt = text
	}
	reply, err := a.GetReply(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "avatar: %s\n", reply)
	if speak == "" {
		return nil
	}
	spoken, err := a.Synthesize(ctx, reply)
	if err != nil {
		return err
	}
	if err := os.WriteFile(speak, spoken, 0o644); err != nil {
		return err
	}
	log.Info().Str("module", "cmd.avatar").Str("file", speak).Int("bytes", len(spoken)).Msg("reply spoken")
	return nil
}
