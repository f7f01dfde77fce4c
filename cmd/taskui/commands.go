package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/connectmytask/taskui/internal/backend"
	"github.com/connectmytask/taskui/internal/config"
	"github.com/connectmytask/taskui/internal/geocode"
	"github.com/connectmytask/taskui/internal/guard"
	"github.com/connectmytask/taskui/internal/identity"
	"github.com/connectmytask/taskui/internal/preview"
	"github.com/connectmytask/taskui/internal/storage"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- login / logout / whoami ---

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store a session token",
	Long: `Store a session token issued by the ConnectMyTask API.

The token is read from the argument, or from stdin when the argument is "-"
or omitted.

Examples:
  taskui login eyJhbGciOi...
  pbpaste | taskui login -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 && args[0] != "-" {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token from stdin: %w", err)
			}
			token = strings.TrimSpace(line)
		}

		claims, err := identity.ClaimsFromToken(token, time.Now())
		if err != nil {
			return fmt.Errorf("rejected token: %w", err)
		}
		if err := config.SetToken(token); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		printSuccess("Signed in (%s)", describeRoles(true, claims.Roles()))

		// Let a running server pick up the new identity.
		if client, err := newAPIClient(); err == nil {
			if resp, err := client.post(cmdContext(cmd), "/login", map[string]string{"token": token}); err == nil {
				resp.Body.Close()
			}
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteToken(); err != nil {
			return fmt.Errorf("removing token: %w", err)
		}
		if client, err := newAPIClient(); err == nil {
			if resp, err := client.post(cmdContext(cmd), "/logout", nil); err == nil {
				resp.Body.Close()
			}
		}
		printSuccess("Signed out")
		return nil
	},
}

// currentClaims decodes the configured token. Any failure means no claims.
func currentClaims(cfg config.Config, now time.Time) (*identity.Claims, error) {
	c, err := identity.ClaimsFromToken(cfg.API.Token, now)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the roles carried by the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		claims, err := currentClaims(cfg, time.Now())
		switch {
		case errors.Is(err, identity.ErrNoToken):
			printStatus("Viewer", "not signed in")
		case err != nil:
			printStatus("Viewer", "not signed in (%v)", err)
		default:
			printStatus("Viewer", "%s", describeRoles(true, claims.Roles()))
		}
		return nil
	},
}

// --- authorize ---

var authorizeCmd = &cobra.Command{
	Use:   "authorize <user|provider|admin>",
	Short: "Check whether the stored token may open a role's views",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		role := identity.Role(strings.ToLower(args[0]))
		claims, _ := currentClaims(cfg, time.Now())

		d := guard.Authorize(role, claims)
		if d.Redirect() {
			printWarning("%s: redirect to %s", role, d.Target)
			return fmt.Errorf("access to %q denied", role)
		}
		printSuccess("%s: allowed", role)
		return nil
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "View and edit a marketplace profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return errors.New("--id is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := newStoredCredentials(cfg.API.Token).Token()
		if err != nil {
			return err
		}

		raw, err := backend.NewClient(cfg.API.BaseURL, cfg.API.Timeout).GetProfile(cmdContext(cmd), id, token)
		if err != nil {
			return err
		}
		var v any
		if err := decodeRaw(raw, &v); err != nil {
			return err
		}
		return printJSON(v)
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Update name, country or photo and submit once",
	Long: `Update a profile the way the editor does: load it, apply the changes,
resolve the new country's coordinates and submit a single update.

Email cannot be changed.

Examples:
  taskui profile edit --id 64f1c2 --country Uganda
  taskui profile edit --id 64f1c2 --name "Ana Maria" --photo ./me.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		req := editRequest{}
		req.ProfileID, _ = cmd.Flags().GetString("id")
		req.Country, _ = cmd.Flags().GetString("country")
		req.PhotoPath, _ = cmd.Flags().GetString("photo")
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			req.Name = &name
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		client := backend.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
		out, err := runProfileEdit(cmdContext(cmd), editDeps{
			Profiles:    client,
			Updater:     client,
			Geocoder:    geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.Timeout).WithCache(store, cfg.Geocode.CacheTTL),
			Credentials: newStoredCredentials(cfg.API.Token),
			Journal:     store,
			Previews:    preview.NewStore(cfg.Preview.MaxDim),
			Notifier:    cliNotifier(),
		}, req)
		if err != nil {
			return err
		}

		var v any
		if err := decodeRaw(out.Profile, &v); err == nil {
			return printJSON(v)
		}
		return nil
	},
}

var profileHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent profile submissions made from this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		subs, err := store.ListSubmissions(id, limit)
		if err != nil {
			return fmt.Errorf("listing submissions: %w", err)
		}
		if len(subs) == 0 {
			fmt.Fprintln(stdout, "No submissions found.")
			return nil
		}
		for _, s := range subs {
			fmt.Fprintln(stdout, formatSubmission(s))
		}
		return nil
	},
}

func formatSubmission(s storage.Submission) string {
	status := colorize(colorGreen, s.Status)
	if s.Status != storage.SubmissionSucceeded {
		status = colorize(colorRed, s.Status)
	}
	line := fmt.Sprintf("%s  %s  %-9s  %s",
		colorize(colorCyan, shortID(s.ID)),
		s.SubmittedAt.Local().Format(time.DateTime),
		status,
		s.ProfileID,
	)
	if s.Country != "" {
		line += "  country=" + s.Country
	}
	if s.PhotoUploaded {
		line += "  +photo"
	}
	if s.Error != "" {
		line += "  (" + s.Error + ")"
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	profileShowCmd.Flags().String("id", "", "profile id")
	profileEditCmd.Flags().String("id", "", "profile id")
	profileEditCmd.Flags().String("name", "", "new display name")
	profileEditCmd.Flags().String("country", "", "new country (coordinates are looked up)")
	profileEditCmd.Flags().String("photo", "", "path to a new profile photo")
	profileHistoryCmd.Flags().String("id", "", "only show this profile")
	profileHistoryCmd.Flags().Int("limit", 20, "maximum number of submissions to list")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileEditCmd)
	profileCmd.AddCommand(profileHistoryCmd)
}

// --- geocode ---

var geocodeCmd = &cobra.Command{
	Use:   "geocode <country>",
	Short: "Look up a country's coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		country := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		c, err := geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.Timeout).
			WithCache(store, cfg.Geocode.CacheTTL).
			Resolve(cmdContext(cmd), country)
		if err != nil {
			return fmt.Errorf("locating %s: %w", country, err)
		}
		fmt.Fprintf(stdout, "%s\t%.6f\t%.6f\n", country, c.Lat, c.Lng)
		return nil
	},
}

var geocodeClearCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Forget every cached country lookup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		n, err := store.ClearGeocodeCache()
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		printSuccess("Removed %d cached lookups", n)
		return nil
	},
}

func init() {
	geocodeCmd.AddCommand(geocodeClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func decodeRaw(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty response")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
