package cli

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/secrets"
	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var (
	connectToken     string
	connectRefresh   string
	connectExpiresIn time.Duration
	connectAuthURL   string
	connectNoQR      bool
)

// authURLs are the consent pages of the toolkits Butler knows about.
var authURLs = map[string]string{
	"slack":          "https://slack.com/oauth/v2/authorize",
	"gmail":          "https://accounts.google.com/o/oauth2/v2/auth?scope=https://www.googleapis.com/auth/gmail.modify",
	"googlecalendar": "https://accounts.google.com/o/oauth2/v2/auth?scope=https://www.googleapis.com/auth/calendar",
}

var connectCmd = &cobra.Command{
	Use:   "connect <toolkit>",
	Short: "Store an access token for an external toolkit",
	Long: "Store an access token for an external toolkit. Without --token the consent page\n" +
		"is shown as a URL and a QR code, and the token is read from stdin.",
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <toolkit>",
	Short: "Remove a toolkit's token and mark it disconnected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolkit := strings.ToLower(strings.TrimSpace(args[0]))
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Tokens.Delete(toolkit); err != nil {
			return err
		}
		if err := a.Timeline.SetConnection(toolkit, false, nil); err != nil {
			return fmt.Errorf("update connection: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s disconnected\n", check(false), toolkit)
		return nil
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectToken, "token", "", "Access token (skips the interactive prompt)")
	connectCmd.Flags().StringVar(&connectRefresh, "refresh-token", "", "Refresh token")
	connectCmd.Flags().DurationVar(&connectExpiresIn, "expires-in", 0, "Token lifetime, e.g. 1h (0 = no expiry)")
	connectCmd.Flags().StringVar(&connectAuthURL, "auth-url", "", "Override the consent page URL")
	connectCmd.Flags().BoolVar(&connectNoQR, "no-qr", false, "Do not print the QR code")
}

func runConnect(cmd *cobra.Command, args []string) error {
	toolkit := strings.ToLower(strings.TrimSpace(args[0]))
	out := cmd.OutOrStdout()

	token := strings.TrimSpace(connectToken)
	if token == "" {
		url := connectAuthURL
		if url == "" {
			url = authURLs[toolkit]
		}
		if url == "" {
			return fmt.Errorf("no consent page known for %q; pass --auth-url or --token", toolkit)
		}
		printHeader(out, "🔗 Connect "+toolkit)
		fmt.Fprintf(out, "Open this page and authorize Butler:\n\n  %s\n\n", url)
		if !connectNoQR {
			code, err := qrcode.New(url, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("render QR code: %w", err)
			}
			fmt.Fprintln(out, code.ToString(false))
		}
		fmt.Fprint(out, "Paste the access token: ")
		sc := bufio.NewScanner(cmd.InOrStdin())
		if sc.Scan() {
			token = strings.TrimSpace(sc.Text())
		}
		if token == "" {
			return fmt.Errorf("no token entered")
		}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	tok := &secrets.Token{
		Toolkit:      toolkit,
		AccessToken:  token,
		RefreshToken: connectRefresh,
		ObtainedAt:   now,
	}
	var expires *time.Time
	if connectExpiresIn > 0 {
		exp := now.Add(connectExpiresIn)
		tok.ExpiresAt = exp
		expires = &exp
	}
	if err := a.Tokens.Save(tok); err != nil {
		return err
	}
	if err := a.Timeline.SetConnection(toolkit, true, expires); err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	fmt.Fprintf(out, "%s %s connected\n", check(true), toolkit)
	if _, limited := a.Limiter.LimitsFor(toolkit); !limited {
		fmt.Fprintln(out, color.YellowString("Note: %s has no rate limit configured.", toolkit))
	}
	return nil
}
