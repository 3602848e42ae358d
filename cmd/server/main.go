package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	healthchatui "github.com/MegaGrindStone/health-chat-ui"
	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/MegaGrindStone/health-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/health-chat-ui/internal/models"
	"github.com/MegaGrindStone/health-chat-ui/internal/services"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:          "healthchat",
		Short:        "Serve the health assistant chat widget",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := readConfig(cfgPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "",
		"path to the config file (default <user config dir>/healthchat/config.yaml)")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfg config) error {
	level, _ := cfg.logLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	assistant, err := services.NewAssistant(cfg.Assistant.Endpoint, cfg.assistantOptions(), logger)
	if err != nil {
		return err
	}

	lang, _ := models.ParseLanguage(cfg.Language)
	opts := chat.Options{
		Language:    lang,
		RevealDelay: cfg.RevealDelay,
		Logger:      logger,
	}
	if cfg.Speech != nil {
		recognizer, err := cfg.Speech.recognizer(logger)
		if err != nil {
			return err
		}
		opts.Recognizer = recognizer
	}

	// Every page load gets its own controller.
	newController := func() handlers.Controller {
		return chat.NewController(assistant, opts)
	}

	m, err := handlers.NewMain(newController, cfg.SessionTTL, logger)
	if err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(healthchatui.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/language", m.HandleLanguage)
	mux.HandleFunc("/voice/start", m.HandleVoiceStart)
	mux.HandleFunc("/voice/stop", m.HandleVoiceStop)
	mux.HandleFunc("/voice/cancel", m.HandleVoiceCancel)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.Bool("voice", opts.Recognizer != nil))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))
		return err

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}

// readConfig loads the config file at path. Without a path the file in the user config directory is
// used if it exists; otherwise the configuration comes from the environment alone.
func readConfig(path string) (config, error) {
	explicit := path != ""
	if !explicit {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return config{}, fmt.Errorf("error getting user config dir: %w", err)
		}
		path = filepath.Join(cfgDir, "healthchat", "config.yaml")
	}

	cfgFile, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return loadConfig(nil)
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	return loadConfig(cfgFile)
}
