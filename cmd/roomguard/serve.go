package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/roomguard/internal/app"
	"github.com/ayusman/roomguard/internal/server"
	"github.com/ayusman/roomguard/internal/session"
	"github.com/ayusman/roomguard/internal/tray"
)

var (
	serveAddr string
	serveTray bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, optionally with a system tray menu",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		addr := cfg.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		webDir := cfg.StaticDir
		if webDir == "" {
			webDir = findWebDir()
		}
		if webDir != "" {
			log.Printf("Serving static files from: %s", webDir)
		}

		srv := server.New(server.Config{StaticDir: webDir, App: a})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx, addr)
		})

		if !serveTray {
			return g.Wait()
		}

		tr := newTray(a, cancel)
		g.Go(func() error {
			watchSession(gctx, a, tr)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			tr.Quit()
			return nil
		})

		// systray needs the main goroutine.
		tr.Run()
		cancel()
		a.StopSession()
		return g.Wait()
	},
}

func newTray(a *app.App, quit context.CancelFunc) *tray.Tray {
	tr := tray.New(cfg.DefaultRoom)
	tr.OnToggle(func(active bool) {
		if !active {
			a.StopSession()
			return
		}
		room, err := resolveRoom(nil, a.Store())
		if err == nil {
			err = a.StartSession(room)
		}
		if err != nil {
			log.Printf("Failed to start session: %v", err)
			tr.SetActive(false)
		}
	})
	tr.OnSettings(func() {
		if err := openSettings(); err != nil {
			log.Printf("Failed to open settings: %v", err)
		}
	})
	tr.OnQuit(func() { quit() })
	return tr
}

// watchSession mirrors session updates into the tray menu.
func watchSession(ctx context.Context, a *app.App, tr *tray.Tray) {
	updates, unsubscribe := a.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			tr.SetState(string(u.State))
			if u.State.Decided() {
				tr.SetLastOutcome(string(u.State), u.Result.UserID)
			}
			if u.StopAcquisition {
				tr.SetActive(false)
				tr.SetState(string(session.StateIdle))
			}
		}
	}
}

// openSettings writes the config file if needed and opens it in the
// platform's default editor.
func openSettings() error {
	path := configPath
	if path == "" {
		path = cfg.Path()
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cfg.Save(path); err != nil {
			return err
		}
	}

	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	return exec.Command(opener, path).Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <data dir>/web.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(cfg.DataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveTray, "tray", false, "show a system tray menu")
	rootCmd.AddCommand(serveCmd)
}
