package cli

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chorus/internal/character"
	"chorus/internal/config"
	"chorus/internal/gateway/handlers"
	"chorus/internal/provider"
)

// NewCharactersCmd creates the characters command.
func NewCharactersCmd() *cobra.Command {
	var (
		remote     bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "characters",
		Short: "List the configured characters",
		Long: `List the configured characters and whether they can answer.

By default the configuration file is read; --remote asks the running server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var views []handlers.CharacterView
			if remote {
				client, err := clientFor(cmd)
				if err != nil {
					return err
				}
				var resp struct {
					Characters []handlers.CharacterView `json:"characters"`
				}
				if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/characters", nil, &resp); err != nil {
					return err
				}
				views = resp.Characters
			} else {
				cliCtx := GetCLIContext(cmd)
				if cliCtx == nil {
					return fmt.Errorf("CLI context not initialized")
				}
				views = localCharacters(cliCtx.Config.Characters)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), views)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHARACTER\tNAME\tMODEL\tVENDOR\tABILITIES\tSTATUS")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.Character, v.Name, v.Model, v.Vendor, strings.Join(v.Abilities, ","), status(v))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "ask the running server")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func status(v handlers.CharacterView) string {
	switch {
	case v.Retired:
		return "retired"
	case v.Available:
		return "available"
	}
	return "unavailable"
}

// localCharacters describes the configured characters without connecting
// to any backend.
func localCharacters(entries []config.CharacterConfig) []handlers.CharacterView {
	profiles := make([]character.Profile, 0, len(entries))
	for _, e := range entries {
		profiles = append(profiles, character.FromConfig(e))
	}
	registry := character.NewRegistry(profiles, func(character.Profile) (provider.Provider, error) {
		return nil, fmt.Errorf("not connected")
	})
	return handlers.DescribeCharacters(registry)
}
