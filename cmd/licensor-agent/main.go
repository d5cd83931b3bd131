// Package main is the entrypoint for the licensor agent CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartedu360/licensor/internal/agent"
	"github.com/smartedu360/licensor/internal/cache"
	"github.com/smartedu360/licensor/internal/config"
	"github.com/smartedu360/licensor/internal/license"
	"github.com/smartedu360/licensor/internal/models"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "licensor-agent",
		Short: "Device-side license agent for smartedu360 deployments",
		Long: `Licensor Agent verifies this device's license against a licensor
server and keeps a local snapshot so verification keeps working through
network outages, within the configured grace period.

Run 'licensor-agent activate' to bind this device to a license.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newActivateCmd(),
		newVerifyCmd(),
		newStatusCmd(),
		newSyncCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Licensor Agent %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newActivateCmd() *cobra.Command {
	var (
		serverURL    string
		licenseKey   string
		offlineToken string
		secret       string
		graceDays    int
	)

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Bind this device to a license",
		Long: `Activate verifies the license key against the server, binds it to
this device's hardware identifier, and stores the configuration under
~/.licensor. The offline token and shared secret come from the license
issuer and enable verification while the server is unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(serverURL, licenseKey, offlineToken, secret, graceDays)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Licensor server URL (required)")
	cmd.Flags().StringVar(&licenseKey, "key", "", "License key (required)")
	cmd.Flags().StringVar(&offlineToken, "token", "", "Offline token issued with the license")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret for offline token checks")
	cmd.Flags().IntVar(&graceDays, "grace-days", 0, "Offline grace period in days (0 uses the default)")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runActivate(serverURL, licenseKey, offlineToken, secret string, graceDays int) error {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https scheme")
	}

	if !license.ValidateKeyFormat(licenseKey) {
		return fmt.Errorf("license key has invalid format")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deviceID, deviceInfo, err := agent.CollectDeviceInfo(ctx)
	if err != nil {
		return fmt.Errorf("collect device info: %w", err)
	}

	deviceName, _ := os.Hostname()

	client := agent.NewClient(serverURL)
	result, err := client.Verify(ctx, models.VerifyRequest{
		LicenseKey: licenseKey,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		DeviceInfo: deviceInfo,
	})
	if err != nil {
		return fmt.Errorf("verify license: %w", err)
	}
	if !result.IsValid {
		return fmt.Errorf("license verification failed: %s", result.Error)
	}

	cfg := &config.AgentConfig{
		ServerURL:       serverURL,
		LicenseKey:      licenseKey,
		OfflineToken:    offlineToken,
		Secret:          secret,
		DeviceID:        deviceID,
		GracePeriodDays: graceDays,
	}

	path, err := config.DefaultConfigPath()
	if err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	// Seed the snapshot cache so offline verification works immediately.
	// The server returns the current offline token to the device it just
	// bound; prefer it over the flag in case the license was renewed
	// since the token was issued.
	if result.License != nil {
		token := result.License.OfflineToken
		if token == "" {
			token = offlineToken
		}
		snapStore, closeStore, err := openSnapshotStore()
		if err == nil {
			defer closeStore()
			_ = snapStore.Put(ctx, &models.LicenseSnapshot{
				LicenseKey:   licenseKey,
				ExpiresAt:    result.License.ExpiresAt,
				Features:     result.Features,
				MaxUsers:     result.MaxUsers,
				OfflineToken: token,
				CurrentUsers: result.CurrentUsers,
				LastSync:     time.Now(),
				CachedAt:     time.Now(),
			})
		}
	}

	fmt.Printf("License activated on this device (%d days remaining).\n", result.RemainingDays)
	return nil
}

func newVerifyCmd() *cobra.Command {
	var (
		offline    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the configured license",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(offline, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the server and verify against the local snapshot")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")

	return cmd
}

func runVerify(offline, jsonOutput bool) error {
	cfg, err := config.LoadAgentDefault()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("agent not activated: %w (run 'licensor-agent activate')", err)
	}

	verifier, closeStore, err := buildVerifier(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := verifier.Verify(ctx, models.VerifyRequest{
		LicenseKey:   cfg.LicenseKey,
		DeviceID:     cfg.DeviceID,
		OfflineToken: cfg.OfflineToken,
		ForceOffline: offline,
	})

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(result)
	if !result.IsValid {
		os.Exit(1)
	}
	return nil
}

func printResult(result *models.VerificationResult) {
	if result.IsValid {
		mode := "online"
		if result.Offline {
			mode = "offline"
		}
		fmt.Printf("License valid (%s), %d days remaining.\n", mode, result.RemainingDays)
		if len(result.Features) > 0 {
			fmt.Printf("Features: %v\n", result.Features)
		}
		fmt.Printf("Users: %d / %d\n", result.CurrentUsers, result.MaxUsers)
		return
	}

	fmt.Printf("License invalid: %s\n", result.Error)
	switch result.Error {
	case models.ErrKindExpired:
		fmt.Println("The license has expired. Contact your administrator to renew it.")
	case models.ErrKindDeviceMismatch:
		fmt.Println("This license is bound to a different device.")
	case models.ErrKindGraceExceeded:
		fmt.Println("Too long since the last online check. Connect to the network and retry.")
	case models.ErrKindStoreUnavailable:
		fmt.Println("Server unreachable and no offline token configured.")
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show activation and snapshot state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := config.LoadAgentDefault()
	if err != nil {
		return err
	}

	if !cfg.IsActivated() {
		fmt.Println("Not activated. Run 'licensor-agent activate'.")
		return nil
	}

	fmt.Printf("Server:    %s\n", cfg.ServerURL)
	fmt.Printf("License:   %s\n", cfg.LicenseKey)
	fmt.Printf("Device ID: %s\n", cfg.DeviceID)

	snapStore, closeStore, err := openSnapshotStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := snapStore.Get(ctx, cfg.LicenseKey)
	if err != nil {
		fmt.Println("Snapshot:  none (offline verification unavailable)")
		return nil
	}

	fmt.Printf("Snapshot:  expires %s, last sync %s\n",
		snap.ExpiresAt.Format(time.RFC3339),
		snap.LastSync.Format(time.RFC3339))
	return nil
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh the local snapshot from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(false, false)
		},
	}
}

// buildVerifier assembles the verifier from the stored configuration.
func buildVerifier(cfg *config.AgentConfig) (*agent.Verifier, func(), error) {
	snapStore, closeStore, err := openSnapshotStore()
	if err != nil {
		return nil, nil, err
	}

	var signer *license.TokenSigner
	if cfg.Secret != "" {
		signer, err = license.NewTokenSigner([]byte(cfg.Secret))
		if err != nil {
			closeStore()
			return nil, nil, err
		}
	}

	grace := time.Duration(cfg.GracePeriodDays) * 24 * time.Hour

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)

	verifier := agent.NewVerifier(agent.NewClient(cfg.ServerURL), snapStore, signer, grace, logger)
	return verifier, closeStore, nil
}

func openSnapshotStore() (*cache.SQLiteCache, func(), error) {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, nil, err
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	store, err := cache.NewSQLiteCache(dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot cache: %w", err)
	}

	return store, func() { _ = store.Close() }, nil
}
