package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	mafather "github.com/SKNETWORKS-FAMILY-AICAMP/SKN11-4th-2Team-sub000/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration, check whether the access token has expired, and fetch the live profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		cfg := s.cfg

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, mafather.DefaultBaseURL+" (default)"))
		if cfg.Default.StreamURL != "" {
			fmt.Printf("  Stream URL:  %s\n", cfg.Default.StreamURL)
		}
		fmt.Printf("  Timeout:     %s\n", valueOrDefault(cfg.Default.Timeout, mafather.DefaultTimeout.String()+" (default)"))

		fmt.Println()
		fmt.Println("Auth:")
		cred, ok := s.client.Store().Get()
		if !ok {
			fmt.Println("  Token:       (not signed in)")
			return nil
		}
		if cfg.Auth.Email != "" {
			fmt.Printf("  Email:       %s\n", cfg.Auth.Email)
		}
		if cfg.Auth.UserID != "" {
			fmt.Printf("  User ID:     %s\n", cfg.Auth.UserID)
		}

		tokenStatus := "none"
		if cred.AccessToken != "" {
			switch {
			case cred.ExpiresAt.IsZero():
				tokenStatus = "present (no expiry claim)"
			case time.Now().Before(cred.ExpiresAt):
				tokenStatus = fmt.Sprintf("valid (expires %s)", cred.ExpiresAt.Format(time.RFC3339))
			default:
				tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", cred.ExpiresAt.Format(time.RFC3339))
			}
		}
		fmt.Printf("  Token:       %s\n", tokenStatus)
		if cred.RefreshToken != "" {
			fmt.Printf("  Refresh:     %s\n", maskToken(cred.RefreshToken))
		} else {
			fmt.Println("  Refresh:     (none)")
		}

		fmt.Println()
		fmt.Println("Live status:")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		profile, err := s.client.Auth.Profile(ctx)
		if err != nil {
			if errors.Is(err, mafather.ErrSessionExpired) || mafather.IsUnauthorized(err) {
				fmt.Println("  Session expired. Sign in again.")
				return nil
			}
			fmt.Printf("  Error fetching profile: %v\n", err)
			return nil
		}
		fmt.Printf("  User ID:     %s\n", valueOrDefault(profile.ID(), "(unknown)"))
		fmt.Printf("  Email:       %s\n", valueOrDefault(profile.Email(), "(unknown)"))
		return nil
	},
}
