package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/wikiembed/internal/app"
	"github.com/example/wikiembed/internal/config"
	"github.com/example/wikiembed/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "wikiembed",
		Short:         "Resolve wiki references in chat text",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yml", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}

	var wikiID string
	resolveCmd := &cobra.Command{
		Use:   "resolve [text]",
		Short: "Resolve the references in text, or in stdin when no text is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			rt, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer rt.close()
			out, err := rt.svc.Resolve(cmd.Context(), wikiID, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	resolveCmd.Flags().StringVar(&wikiID, "wiki", "", "wiki id (default: default_wiki)")

	var pageWiki string
	pageCmd := &cobra.Command{
		Use:   "page <name>",
		Short: "Print the summary of one page as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer rt.close()
			req := service.LookupRequest{Wiki: pageWiki}
			name := strings.Join(args, " ")
			if strings.Contains(name, "[[") || strings.Contains(name, "{{") {
				req.Text = name
			} else {
				req.Name = name
			}
			page, err := rt.svc.Lookup(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		},
	}
	pageCmd.Flags().StringVar(&pageWiki, "wiki", "", "wiki id (default: default_wiki)")

	rootCmd.AddCommand(serveCmd, resolveCmd, pageCmd)
	return rootCmd
}

func newLogger(cfg config.Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log := zerolog.New(out).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	return log.Level(level)
}

type env struct {
	cfg   config.Config
	log   zerolog.Logger
	svc   *service.Service
	close func()
}

func setup(cfgPath string) (env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return env{}, err
	}
	log := newLogger(cfg)
	sink, closer, err := app.BuildSink(cfg)
	if err != nil {
		return env{}, err
	}
	client := &http.Client{Timeout: cfg.RequestTimeout}
	return env{cfg: cfg, log: log, svc: service.NewService(cfg, client, sink, log), close: closer}, nil
}

func runServe(ctx context.Context, cfgPath string) error {
	rt, err := setup(cfgPath)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, log := rt.cfg, rt.log
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rt.svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Int("wikis", len(cfg.Wikis)).Str("sink", cfg.Sink).Msg("Listening")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
