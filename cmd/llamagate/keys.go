package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"llamagate/llamagate/pkg/cli"
	"llamagate/llamagate/pkg/config"
	"llamagate/llamagate/pkg/security/auth"
)

var keysFlags struct {
	keysFile  string
	rateLimit int
	expires   string
	format    string
	quiet     bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the API keys file",
	Long: `Generate, list, rotate, and remove API keys.

Keys live in a flat file, one key_id:secret[:rate_limit][:expiration]
entry per line. Every mutation rewrites the file atomically with 0600
permissions; a running gateway picks the change up on SIGHUP, via the
keys-file watcher, or on its next explicit reload.

Secrets are printed exactly once, at generation or rotation. The list
subcommand never shows them.

Examples:
  # Generate a key with the default rate limit
  llamagate keys generate production

  # Generate a key limited to 30 requests/minute, expiring in 90 days
  llamagate keys generate ci-bot --rate-limit 30 --expires 90d

  # Generate with an absolute expiration
  llamagate keys generate demo --expires 2027-01-01T00:00:00Z

  # Rotate a secret, keeping the key's limits
  llamagate keys rotate production`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate <key_id>",
	Short: "Generate a new API key",
	Args:  cobra.ExactArgs(1),
	RunE:  generateKey,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys without their secrets",
	Args:  cobra.NoArgs,
	RunE:  listKeys,
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <key_id>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE:  removeKey,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <key_id>",
	Short: "Replace a key's secret, keeping its rate limit and expiration",
	Args:  cobra.ExactArgs(1),
	RunE:  rotateKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysListCmd, keysRemoveCmd, keysRotateCmd)

	keysCmd.PersistentFlags().StringVar(&keysFlags.keysFile, "keys-file", "", "keys file path (default from config/env)")
	keysCmd.PersistentFlags().BoolVarP(&keysFlags.quiet, "quiet", "q", false, "print only the secret (for scripting)")

	keysListCmd.Flags().StringVar(&keysFlags.format, "format", "text", "output format: text or json")

	keysGenerateCmd.Flags().IntVar(&keysFlags.rateLimit, "rate-limit", 0, "requests per minute (0 uses the gateway default)")
	keysGenerateCmd.Flags().StringVar(&keysFlags.expires, "expires", "", "expiration: RFC 3339 timestamp or relative like 90d, 24h, 60m")
}

// resolveKeysFile prefers the flag, then the configured path.
func resolveKeysFile() (string, error) {
	if keysFlags.keysFile != "" {
		return keysFlags.keysFile, nil
	}
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return "", cli.NewConfigError("", fmt.Sprintf("loading config: %v", err))
	}
	return cfg.Auth.KeysFile, nil
}

// loadRecords reads the keys file, tolerating a missing file (an empty key
// set) and reporting skipped lines on stderr.
func loadRecords(path string) ([]auth.Record, error) {
	records, parseErrs, err := auth.ParseKeysFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading keys file: %w", err)
	}
	for _, perr := range parseErrs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", perr)
	}
	return records, nil
}

var relativeExpiry = regexp.MustCompile(`^(\d+)([dhm])$`)

// parseExpires accepts an RFC 3339 timestamp, a zone-less timestamp
// (treated as UTC), or a relative duration in days, hours, or minutes.
func parseExpires(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	if m := relativeExpiry.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("invalid relative expiration %q", s)
		}
		switch m[2] {
		case "d":
			return now.AddDate(0, 0, n), nil
		case "h":
			return now.Add(time.Duration(n) * time.Hour), nil
		default:
			return now.Add(time.Duration(n) * time.Minute), nil
		}
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid expiration %q: want RFC 3339 or a relative value like 90d", s)
}

func generateKey(cmd *cobra.Command, args []string) error {
	keyID := args[0]
	if !auth.ValidKeyID(keyID) {
		return cli.NewConfigError("key_id", "must be 1-64 characters of letters, digits, hyphen, or underscore")
	}

	path, err := resolveKeysFile()
	if err != nil {
		return err
	}
	records, err := loadRecords(path)
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}
	for _, r := range records {
		if r.KeyID == keyID {
			return cli.NewCommandError("keys generate", fmt.Errorf("key %q already exists (use rotate to replace its secret)", keyID))
		}
	}

	expiration, err := parseExpires(keysFlags.expires, time.Now().UTC())
	if err != nil {
		return cli.NewConfigError("expires", err.Error())
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	records = append(records, auth.Record{
		KeyID:      keyID,
		Secret:     secret,
		RateLimit:  keysFlags.rateLimit,
		Expiration: expiration,
	})
	if err := auth.WriteKeysFile(path, records); err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	if keysFlags.quiet {
		fmt.Println(secret)
		return nil
	}
	fmt.Printf("Key ID:  %s\n", keyID)
	fmt.Printf("Secret:  %s\n", secret)
	if keysFlags.rateLimit > 0 {
		fmt.Printf("Rate:    %d requests/minute\n", keysFlags.rateLimit)
	}
	if !expiration.IsZero() {
		fmt.Printf("Expires: %s\n", expiration.UTC().Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("Store the secret now; it is not shown again.")
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	path, err := resolveKeysFile()
	if err != nil {
		return err
	}
	records, err := loadRecords(path)
	if err != nil {
		return cli.NewCommandError("keys list", err)
	}

	format, err := cli.ParseOutputFormat(keysFlags.format)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if format == cli.FormatJSON {
		type keyRow struct {
			KeyID     string `json:"key_id"`
			RateLimit int    `json:"rate_limit,omitempty"`
			Expires   string `json:"expires,omitempty"`
			Expired   bool   `json:"expired,omitempty"`
		}
		rows := make([]keyRow, 0, len(records))
		for _, r := range records {
			row := keyRow{KeyID: r.KeyID, RateLimit: r.RateLimit}
			if !r.Expiration.IsZero() {
				row.Expires = r.Expiration.UTC().Format(time.RFC3339)
				row.Expired = r.Expired(now)
			}
			rows = append(rows, row)
		}
		return cli.WriteJSON(os.Stdout, rows)
	}

	if len(records) == 0 {
		fmt.Println("no keys")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY ID\tRATE LIMIT\tEXPIRES\tSTATUS")
	for _, r := range records {
		rate := "default"
		if r.RateLimit > 0 {
			rate = strconv.Itoa(r.RateLimit) + "/min"
		}
		expires := "never"
		status := "active"
		if !r.Expiration.IsZero() {
			expires = r.Expiration.UTC().Format(time.RFC3339)
			if r.Expired(now) {
				status = "expired"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.KeyID, rate, expires, status)
	}
	return w.Flush()
}

func removeKey(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	path, err := resolveKeysFile()
	if err != nil {
		return err
	}
	records, err := loadRecords(path)
	if err != nil {
		return cli.NewCommandError("keys remove", err)
	}

	kept := records[:0]
	found := false
	for _, r := range records {
		if r.KeyID == keyID {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return cli.NewCommandError("keys remove", fmt.Errorf("key %q not found", keyID))
	}

	if err := auth.WriteKeysFile(path, kept); err != nil {
		return cli.NewCommandError("keys remove", err)
	}
	if !keysFlags.quiet {
		fmt.Printf("removed %s (%d keys remain)\n", keyID, len(kept))
	}
	return nil
}

func rotateKey(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	path, err := resolveKeysFile()
	if err != nil {
		return err
	}
	records, err := loadRecords(path)
	if err != nil {
		return cli.NewCommandError("keys rotate", err)
	}

	idx := -1
	for i, r := range records {
		if r.KeyID == keyID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return cli.NewCommandError("keys rotate", fmt.Errorf("key %q not found", keyID))
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return cli.NewCommandError("keys rotate", err)
	}
	records[idx].Secret = secret

	if err := auth.WriteKeysFile(path, records); err != nil {
		return cli.NewCommandError("keys rotate", err)
	}

	if keysFlags.quiet {
		fmt.Println(secret)
		return nil
	}
	fmt.Printf("Key ID:  %s\n", keyID)
	fmt.Printf("Secret:  %s\n", secret)
	fmt.Println()
	fmt.Println("Rate limit and expiration were preserved. The old secret stops working on the gateway's next reload.")
	return nil
}
