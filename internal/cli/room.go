package cli

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chorus/internal/gateway/handlers"
	"chorus/internal/runner"
)

// NewRoomCmd creates the room command.
func NewRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Inspect rooms",
	}
	cmd.AddCommand(newRoomRecordsCmd())
	cmd.AddCommand(newRoomContinueCmd())
	return cmd
}

func newRoomRecordsCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "records <room>",
		Short: "List the records of a room since its last clear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(cmd)
			if err != nil {
				return err
			}
			var resp handlers.RecordsResponse
			path := fmt.Sprintf("/api/v1/rooms/%s/records?limit=%d", args[0], limit)
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tCHARACTER\tTEXT")
			// 接口按新到旧返回，终端里按时间顺序展示
			for i := len(resp.Records) - 1; i >= 0; i-- {
				r := resp.Records[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.CreatedAt.Format("01-02 15:04:05"), r.Kind, r.Character, oneLine(r.Text, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func newRoomContinueCmd() *cobra.Command {
	var character string

	cmd := &cobra.Command{
		Use:   "continue <room>",
		Short: "Resume truncated replies in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(cmd)
			if err != nil {
				return err
			}
			var turn runner.Turn
			body := map[string]string{"character": character}
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/rooms/"+args[0]+"/continue", body, &turn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d results)\n", turn.RoomID, turn.Outcome, len(turn.Results))
			return nil
		},
	}

	cmd.Flags().StringVar(&character, "character", "", "only continue this character")
	return cmd
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
