package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mafather "github.com/SKNETWORKS-FAMILY-AICAMP/SKN11-4th-2Team-sub000/sdk/golang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// session create
	sessionKind     string
	sessionCategory string
	sessionJSON     bool

	// chat
	chatKind      string
	chatCategory  string
	chatSessionID string
	chatJSON      bool
)

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionKind, "type", string(mafather.SessionAIExpert), "Session type: ai_expert, community or doc")
	sessionCreateCmd.Flags().StringVar(&sessionCategory, "category", mafather.CategoryGeneral, "Chat category")
	sessionCreateCmd.Flags().BoolVar(&sessionJSON, "json", false, "Output raw JSON")
	sessionCmd.AddCommand(sessionCreateCmd)

	chatCmd.Flags().StringVar(&chatKind, "type", string(mafather.SessionAIExpert), "Session type: ai_expert, community or doc")
	chatCmd.Flags().StringVar(&chatCategory, "category", mafather.CategoryGeneral, "Chat category")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Join an existing session instead of creating one")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print every frame as raw JSON")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(chatCmd)
}

// ============================================================================
// session
// ============================================================================

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Chat session commands",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a chat session and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		if err := s.requireLogin(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		cs, err := s.client.Chat.CreateSession(ctx, mafather.SessionKind(sessionKind), sessionCategory)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if sessionJSON {
			data, _ := json.Marshal(cs)
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("Session ID: %s\n", cs.SessionID)
		fmt.Printf("  Type:     %s\n", cs.Kind)
		fmt.Printf("  Category: %s\n", cs.Category)
		return nil
	},
}

// ============================================================================
// chat
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat over the realtime stream",
	Long: "Create (or join) a chat session and connect to its stream. Each line read from stdin is sent\n" +
		"as a chat message; frames from the server are printed as they arrive. Ctrl-C disconnects.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		if err := s.requireLogin(); err != nil {
			return err
		}
		cc, err := s.connectorConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conn := s.client.Chat.Connector(cc)
		failed := make(chan struct{}, 1)
		conn.OnStateChange(func(st mafather.ConnectionState) {
			fmt.Fprintf(os.Stderr, "[%s]\n", st)
			if st == mafather.StateFailed {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		})
		conn.Subscribe(func(f mafather.Frame) {
			printFrame(f, chatJSON)
		})

		if chatSessionID != "" {
			err = conn.Connect(ctx, chatSessionID)
		} else {
			err = conn.Start(ctx, mafather.SessionKind(chatKind), chatCategory)
		}
		if err != nil {
			return err
		}
		defer conn.Disconnect()

		lines := make(chan string)
		go func() {
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				lines <- sc.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-failed:
				return fmt.Errorf("chat stream failed")
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if err := conn.SendMessage(ctx, line); err != nil {
					s.log.Warn("message not sent", zap.Error(err))
					fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
				}
			}
		}
	},
}

func printFrame(f mafather.Frame, raw bool) {
	if raw {
		fmt.Println(string(f.Raw))
		return
	}
	switch f.Type {
	case mafather.FrameAIResponse, mafather.FrameChat:
		fmt.Printf("> %s\n", f.Message)
	case mafather.FrameError:
		fmt.Fprintf(os.Stderr, "error: %s\n", valueOrDefault(f.Error, f.Message))
	case mafather.FrameTyping:
		if f.IsTyping != nil && *f.IsTyping {
			fmt.Fprintln(os.Stderr, "...")
		}
	default:
		fmt.Println(string(f.Raw))
	}
}
