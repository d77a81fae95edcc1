package main

import (
	"context"
	"fmt"
	"time"

	mafather "github.com/SKNETWORKS-FAMILY-AICAMP/SKN11-4th-2Team-sub000/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	loginAccess    string
	loginRefresh   string
	loginSkipCheck bool
)

func init() {
	loginCmd.Flags().StringVar(&loginAccess, "access", "", "Access token")
	loginCmd.Flags().StringVar(&loginRefresh, "refresh", "", "Refresh token")
	loginCmd.Flags().BoolVar(&loginSkipCheck, "no-verify", false, "Store the tokens without fetching the profile")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access/refresh token pair",
	Long: "Store tokens issued by the backend's sign-in flow and verify them by fetching the profile.\n" +
		"An expired access token is refreshed on the first call.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginAccess == "" && loginRefresh == "" {
			return fmt.Errorf("at least one of --access or --refresh is required")
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		// Set notifies the persister, so the tokens are on disk from here on.
		s.client.Store().Set(mafather.Credential{AccessToken: loginAccess, RefreshToken: loginRefresh})

		if loginSkipCheck {
			fmt.Println("Tokens saved.")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		profile, err := s.client.Auth.Profile(ctx)
		if err != nil {
			return fmt.Errorf("tokens saved but profile check failed: %w", err)
		}
		fmt.Printf("Signed in as %s\n", valueOrDefault(profile.Email(), profile.ID()))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the backend session and forget local tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		if err := s.requireLogin(); err != nil {
			fmt.Println("Already signed out.")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		if err := s.client.Auth.Logout(ctx); err != nil {
			fmt.Printf("Backend logout failed (%v); local tokens cleared.\n", err)
			return nil
		}
		fmt.Println("Signed out.")
		return nil
	},
}
