package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/connectmytask/taskui/internal/api"
	"github.com/connectmytask/taskui/internal/backend"
	"github.com/connectmytask/taskui/internal/config"
	"github.com/connectmytask/taskui/internal/geocode"
	"github.com/connectmytask/taskui/internal/identity"
	"github.com/connectmytask/taskui/internal/preview"
	"github.com/connectmytask/taskui/internal/storage"
)

const (
	identityRefreshInterval = time.Minute
	editorIdleTimeout       = 30 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local UI server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running UI server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and sign-in status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "taskui.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintln(stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("taskui is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("taskui is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	creds := newStoredCredentials(cfg.API.Token)
	ident := identity.NewContext()
	if err := refreshIdentity(ident, creds, time.Now()); err != nil {
		printWarning("stored session token rejected: %v", err)
	}
	if c := ident.Current(); c != nil {
		slog.Info("viewer signed in", "roles", c.Roles())
	} else {
		slog.Info("no viewer signed in; protected views redirect to /login")
	}

	handler, editors := api.NewHandler(api.Deps{
		Identity:    ident,
		Credentials: creds,
		Geocoder:    geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.Timeout).WithCache(store, cfg.Geocode.CacheTTL),
		Updater:     backend.NewClient(cfg.API.BaseURL, cfg.API.Timeout),
		Previews:    preview.NewStore(cfg.Preview.MaxDim),
		Store:       store,
	})
	defer editors.CloseAll()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("taskui listening", "addr", addr, "api", cfg.API.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		watchIdentity(gctx, ident, creds, identityRefreshInterval)
		return nil
	})
	g.Go(func() error {
		logIdentityChanges(gctx, ident)
		return nil
	})
	g.Go(func() error {
		expireEditors(gctx, editors, identityRefreshInterval, editorIdleTimeout)
		return nil
	})

	return g.Wait()
}

// expireEditors closes editor sessions left idle, releasing their previews.
func expireEditors(ctx context.Context, editors *api.Editors, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := editors.CloseIdle(idle); n > 0 {
				slog.Debug("expired idle editors", "count", n)
			}
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("taskui is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop taskui (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to taskui (PID %d)", pid)
	return nil
}

type whoamiView struct {
	Authenticated bool            `json:"authenticated"`
	Roles         []identity.Role `json:"roles"`
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	running := false
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	if running {
		if resp, err := client.get(ctx, "/whoami"); err == nil {
			var who whoamiView
			if decodeJSON(resp, &who) == nil {
				printStatus("Viewer", "%s", describeRoles(who.Authenticated, who.Roles))
			}
		}
	}

	printStatus("API", "%s", cfg.API.BaseURL)
	printStatus("Geocoder", "%s", cfg.Geocode.BaseURL)
	if cfg.API.Token != "" {
		printStatus("Token", "stored")
	} else {
		printStatus("Token", "none (%s)", config.TokenHint())
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func describeRoles(authenticated bool, roles []identity.Role) string {
	if !authenticated {
		return "not signed in"
	}
	if len(roles) == 0 {
		return "signed in, no roles"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return "signed in as " + strings.Join(names, ", ")
}
