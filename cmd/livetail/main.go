package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stanstork/autorun-api/internal/authz"
	"github.com/stanstork/autorun-api/internal/live"
	"github.com/stanstork/autorun-api/internal/models"
)

var (
	serverURL string
	tenantID  string
	token     string
	jwtSecret string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "livetail",
	Short: "Follow a tenant's live dashboard updates",
	Long: `livetail connects to the autorun API the same way the dashboard does,
over the event stream and the change feed, and prints every update.

Examples:
  livetail --tenant 3f2a... --token eyJ...
  livetail --tenant 3f2a... --jwt-secret dev-secret   # mint a short-lived token`,
	RunE: runTail,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "API base URL")
	rootCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id to follow")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("AUTORUN_TOKEN"), "Bearer token (default $AUTORUN_TOKEN)")
	rootCmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "Sign a one-hour token with this secret instead of --token")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log transport debug output")
	_ = rootCmd.MarkFlagRequired("tenant")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTail(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	bearer := token
	if jwtSecret != "" {
		minted, err := authz.NewAuthenticator(jwtSecret).IssueToken(tenantID, "livetail", time.Hour)
		if err != nil {
			return err
		}
		bearer = minted
	}
	if bearer == "" {
		return errors.New("either --token or --jwt-secret is required")
	}

	streamURL, changesURL, err := endpoints(serverURL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	client := live.New(live.Options{
		Stream:  &live.StreamTransport{URL: streamURL, Token: bearer},
		Changes: &live.ChangeTransport{URL: changesURL, Token: bearer, TenantID: tenantID},
		Logger:  logger,
		Callbacks: live.Callbacks{
			OnConnectionChange: func(transport string, connected bool) {
				fmt.Fprintf(out, "[%s] connected=%t\n", transport, connected)
			},
			OnNotification: func(n models.Notification) {
				fmt.Fprintf(out, "notification %-7s %s: %s\n", n.Severity, n.Title, n.Message)
			},
			OnUnreadCount: func(count int) {
				fmt.Fprintf(out, "unread %d\n", count)
			},
			OnAutomationUpdate: func(u models.AutomationUpdate) {
				name := u.AutomationName
				if name == "" {
					name = u.AutomationID
				}
				line := fmt.Sprintf("run %s %s %s", u.RunID, name, u.Status)
				if u.DurationMS != nil {
					line += fmt.Sprintf(" %dms", *u.DurationMS)
				}
				if u.ErrorMessage != nil {
					line += " error=" + *u.ErrorMessage
				}
				fmt.Fprintln(out, line)
			},
			OnReviewQueue: func(e live.ReviewEvent) {
				verb := "queued"
				if !e.Queued {
					verb = "cleared"
				}
				fmt.Fprintf(out, "review %s %s/%s pending=%d\n", verb, e.Table, e.ID, e.Pending)
			},
		},
	})
	client.Start()
	defer client.Close()

	// SIGHUP forces an immediate reconnect, like the dashboard's retry button.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigs {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("reconnecting")
			client.Reconnect()
			continue
		}
		break
	}
	return nil
}

// endpoints derives the stream and change-feed URLs from the API base URL.
func endpoints(base string) (stream, changes string, err error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", "", errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", "", errors.Errorf("server url must be http or https, got %q", base)
	}

	streamURL := *u
	streamURL.Path += "/api/realtime/stream"

	changesURL := *u
	changesURL.Path += "/api/realtime/changes"
	changesURL.Scheme = "ws"
	if u.Scheme == "https" {
		changesURL.Scheme = "wss"
	}
	return streamURL.String(), changesURL.String(), nil
}
