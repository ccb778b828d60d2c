package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Control a running ragppd instance",
	}
	cmd.PersistentFlags().StringVar(&address, "address", "http://localhost:8080", "base URL of the running ragppd instance")

	cmd.AddCommand(newAdminSubcommand("kill", "Set the kill switch: new requests are rejected", "/admin/kill", &address))
	cmd.AddCommand(newAdminSubcommand("release", "Clear the kill switch", "/admin/release", &address))
	cmd.AddCommand(newAdminSubcommand("clear-cache", "Clear the facts store", "/admin/clear-cache", &address))
	cmd.AddCommand(newAdminStatsCmd(&address))
	cmd.AddCommand(newAdminFactsCmd(&address))

	return cmd
}

func newAdminSubcommand(use, short, path string, address *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAdmin(*address, path)
		},
	}
}

func newAdminStatsCmd(address *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache and metrics stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAdmin(*address, "/admin/stats", cmd.OutOrStdout())
		},
	}
}

// newAdminFactsCmd lists cached facts (GET /facts), or with --stats prints
// the cache summary (GET /facts/stats) instead.
func newAdminFactsCmd(address *string) *cobra.Command {
	var limit int
	var stats bool

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List cached facts, or summarize the cache with --stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stats {
				return getAdmin(*address, "/facts/stats", cmd.OutOrStdout())
			}
			path := "/facts"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return getAdmin(*address, path, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of facts to list (0 = no limit)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print cache stats instead of listing facts")
	return cmd
}

func postAdmin(address, path string) error {
	resp, err := http.Post(address+path, "application/json", nil)
	if err != nil {
		return withExitCode(ExitGeneric, fmt.Errorf("request %s: %w", path, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return withExitCode(ExitGeneric, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, body))
	}
	return nil
}

func getAdmin(address, path string, out io.Writer) error {
	resp, err := http.Get(address + path)
	if err != nil {
		return withExitCode(ExitGeneric, fmt.Errorf("request %s: %w", path, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return withExitCode(ExitGeneric, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, body))
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return withExitCode(ExitGeneric, fmt.Errorf("decode response: %w", err))
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
