package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var requestQuery []string

func init() {
	requestCmd.Flags().StringArrayVarP(&requestQuery, "query", "q", nil, "Query parameter key=value (repeatable)")
	rootCmd.AddCommand(requestCmd)
}

var requestCmd = &cobra.Command{
	Use:   "request <method> <path> [json-body]",
	Short: "Call any backend path through the authenticated gateway",
	Long: "Send one request with the stored credential, CSRF token and automatic refresh.\n" +
		"Example: mafather request GET /users/children/",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := strings.ToUpper(args[0])
		path := args[1]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		var body interface{}
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("body is not valid JSON")
			}
			body = json.RawMessage(args[2])
		}

		query := map[string]string{}
		for _, kv := range requestQuery {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("query parameter %q must be key=value", kv)
			}
			query[k] = v
		}

		s, err := newSession()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		data, err := s.client.Do(ctx, method, path, body, query)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

// printJSON pretty-prints data, falling back to the raw body.
func printJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(out.String())
	return nil
}
