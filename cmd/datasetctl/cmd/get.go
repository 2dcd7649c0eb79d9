package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/progress"
)

var (
	getURL     string
	getNames   []string
	getFrom    string
	getTo      string
	getTimeout time.Duration
	getJSON    bool
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Request datasets and follow their progress",
	Long: `Open a websocket session, request the named datasets and print every
event until the final one.

Examples:
  datasetctl get --names Alpha,Beta
  datasetctl get --names Alpha --from 2025-06-01 --to 2025-06-30
  datasetctl get --url ws://cache:8000/dataset/get --names Alpha --json`,
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVar(&getURL, "url", "ws://localhost:8000/dataset/get", "session endpoint")
	getCmd.Flags().StringSliceVar(&getNames, "names", nil, "dataset names (comma separated)")
	getCmd.Flags().StringVar(&getFrom, "from", "", "window start (date or RFC 3339)")
	getCmd.Flags().StringVar(&getTo, "to", "", "window end (date or RFC 3339, default now)")
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 0, "give up after this long (0 waits forever)")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "print raw events as JSON lines")
}

func runGet(cmd *cobra.Command, args []string) error {
	if len(getNames) == 0 {
		return fmt.Errorf("--names is required")
	}
	out := cmd.OutOrStdout()

	conn, _, err := websocket.DefaultDialer.Dial(getURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", getURL, err)
	}
	defer conn.Close()

	req := models.SessionRequest{Names: getNames, FromDT: getFrom, ToDT: getTo}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var deadline time.Time
	if getTimeout > 0 {
		deadline = time.Now().Add(getTimeout)
	}
	for {
		conn.SetReadDeadline(deadline)

		var ev progress.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fmt.Errorf("session closed before a final event")
			}
			return fmt.Errorf("failed to read event: %w", err)
		}

		if err := printEvent(out, ev); err != nil {
			return err
		}

		switch ev.Type {
		case progress.EventFinal:
			if !ev.Success {
				return fmt.Errorf("%s", ev.Message)
			}
			return nil
		case progress.EventError:
			return fmt.Errorf("session rejected: %s", ev.Message)
		}
	}
}

func printEvent(w io.Writer, ev progress.Event) error {
	if getJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	switch ev.Type {
	case progress.EventKeepalive:
		return nil
	case progress.EventFinal:
		fmt.Fprintf(w, "%s\n", ev.Message)
		for _, r := range ev.Datasets {
			if r.Success {
				fmt.Fprintf(w, "  %-20s %s %s\n", r.Name, r.Phase, r.Checksum)
			} else {
				fmt.Fprintf(w, "  %-20s %s %s\n", r.Name, r.Phase, r.Error)
			}
		}
		if len(ev.Missing) > 0 {
			fmt.Fprintf(w, "  unknown: %s\n", strings.Join(ev.Missing, ", "))
		}
	default:
		fmt.Fprintf(w, "[%s] %s\n", ev.Type, ev.Message)
	}
	return nil
}
