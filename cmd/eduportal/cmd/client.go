package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/eduportal/credstore"
	"github.com/jmcleod/eduportal/portal"
)

var (
	serverURL  string
	dataDir    string
	identifier string
	secret     string
)

// reportKinds maps the report argument to its local API path.
var reportKinds = map[string]string{
	"schedule":   "/schedule",
	"attendance": "/attendance",
	"grades":     "/grades",
	"history":    "/history",
}

// openPortal builds the credential store and session manager for a client
// command and stores the manager in the command context.
func openPortal(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(os.Stderr, logLevel, false)
	if err != nil {
		return err
	}
	store, err := credstore.OpenDir(dataDir, credstore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	cobra.OnFinalize(func() { store.Close() })

	m := portal.New(strings.TrimRight(serverURL, "/")+"/api", store, portal.WithLogger(logger))
	cmd.SetContext(withStore(portal.WithManager(cmd.Context(), m), store))
	return nil
}

type storeKey struct{}

func withStore(ctx context.Context, s credstore.Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

func storeFrom(cmd *cobra.Command) credstore.Store {
	return cmd.Context().Value(storeKey{}).(credstore.Store)
}

func managerFrom(cmd *cobra.Command) *portal.Manager {
	m, ok := portal.FromContext(cmd.Context())
	if !ok {
		panic("client command run without openPortal")
	}
	return m
}

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Log in and store the credentials on this device",
	PreRunE: openPortal,
	RunE: func(cmd *cobra.Command, args []string) error {
		if identifier == "" || secret == "" {
			return errors.New("--identifier and --secret are required")
		}
		m := managerFrom(cmd)
		err := m.Login(cmd.Context(), credstore.Credentials{Identifier: identifier, Secret: secret})
		if err != nil {
			return describe(err)
		}
		st := m.Current()
		if st.User != nil {
			fmt.Printf("Logged in as %s\n", st.User.Identifier)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "End the session and forget the stored credentials",
	PreRunE: openPortal,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := managerFrom(cmd)
		logoutErr := m.Logout(cmd.Context(), portal.ReasonUserLogout)
		if err := storeFrom(cmd).Clear(); err != nil {
			return err
		}
		if logoutErr != nil {
			fmt.Fprintf(os.Stderr, "server logout failed: %v\n", logoutErr)
		}
		fmt.Println("Logged out")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the session status, reconnecting with stored credentials",
	PreRunE: openPortal,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := managerFrom(cmd)
		st := m.CheckSession(cmd.Context(), false)
		if st.Status == portal.StatusExpired {
			m.Reconnect(cmd.Context())
			st = m.Current()
		}
		user := "-"
		if st.User != nil {
			user = st.User.Identifier
		}
		fmt.Printf("status: %s\nuser:   %s\n", st.Status, user)
		if !st.LastRefreshedAt.IsZero() && st.User != nil {
			fmt.Printf("login:  %s\n", st.LastRefreshedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:       "report {schedule|attendance|grades|history}",
	Short:     "Fetch a report as JSON",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: slices.Sorted(maps.Keys(reportKinds)),
	PreRunE:   openPortal,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := portal.NewFetcher(managerFrom(cmd))
		var raw json.RawMessage
		if err := f.GetJSON(cmd.Context(), reportKinds[args[0]], &raw); err != nil {
			return describe(err)
		}
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "", "  "); err != nil {
			return err
		}
		out.WriteByte('\n')
		_, err := out.WriteTo(os.Stdout)
		return err
	},
}

// describe turns portal errors into messages for the terminal.
func describe(err error) error {
	var apiErr *portal.APIError
	switch {
	case portal.IsSessionExpired(err):
		return errors.New("session expired, run `eduportal login` again")
	case errors.As(err, &apiErr):
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	default:
		return err
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "eduportal")
	}
	return ".eduportal"
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, logoutCmd, statusCmd, reportCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the eduportal server")
		c.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory holding the encrypted credentials")
		rootCmd.AddCommand(c)
	}
	loginCmd.Flags().StringVar(&identifier, "identifier", "", "Student registration (RA)")
	loginCmd.Flags().StringVar(&secret, "secret", "", "Password (prefer EDUPORTAL_SECRET)")
}
