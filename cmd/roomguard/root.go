package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/ayusman/roomguard/internal/app"
	"github.com/ayusman/roomguard/internal/config"
	"github.com/ayusman/roomguard/internal/rooms"
	"github.com/ayusman/roomguard/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	configPath string
	dataDir    string

	// cfg is loaded once per invocation by the root command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "roomguard",
	Short:        "Face authorization for rooms",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dataDir != "" {
			os.Setenv("ROOMGUARD_DATA_DIR", dataDir)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with a context cancelled on Ctrl+C.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.roomguard)")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func openRooms() (*rooms.Store, error) {
	return rooms.Open(cfg.RoomsDir)
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return store.New(cfg.DBPath)
}

// openApp builds the application from cfg. The returned func releases the
// models, camera and database.
func openApp() (*app.App, func(), error) {
	rs, err := openRooms()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(app.Config{
		Rooms:           rs,
		Store:           st,
		PluginDir:       cfg.PluginDir,
		HookTimeout:     cfg.Hooks.Timeout,
		CameraID:        cfg.Camera.ID,
		FPS:             cfg.Camera.FPS,
		Session:         cfg.SessionSettings(),
		DetectorBackend: cfg.Detector.Backend,
		Detector:        cfg.DetectorSettings(),
		EmbedderBackend: cfg.Embedder.Backend,
		Embedder:        cfg.EmbedderSettings(),
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if err := a.DiscoverPlugins(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: plugin discovery failed: %v\n", err)
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		st.Close()
	}
	return a, cleanup, nil
}

// resolveRoom picks the explicit room, then the configured default, then
// the room of the last live session.
func resolveRoom(args []string, st *store.Store) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.DefaultRoom != "" {
		return cfg.DefaultRoom, nil
	}
	if st != nil {
		room, err := st.Settings().Get(store.SettingLastRoom)
		if err == nil && room != "" {
			return room, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	return "", errors.New("no room given and no default_room configured")
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
