package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-teachable/pkg/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print status updates from a running dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		raw, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return watch(ctx, addr, raw, cmd.OutOrStdout())
	},
}

func init() {
	watchCmd.Flags().String("addr", "localhost:8080", "dashboard host:port")
	watchCmd.Flags().Bool("json", false, "print raw protocol messages")
	rootCmd.AddCommand(watchCmd)
}

// watch prints every status and epoch message until ctx is done or the
// server closes the connection.
func watch(ctx context.Context, addr string, raw bool, out io.Writer) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/status"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		if line := formatMessage(msg); line != "" {
			fmt.Fprintln(out, line)
		}
	}
}

func formatMessage(msg *protocol.Message) string {
	switch msg.Type {
	case protocol.TypeStatus:
		st, err := msg.GetStatusData()
		if err != nil {
			return ""
		}
		state := st.State
		if st.Label >= 0 {
			state = fmt.Sprintf("%s(%d)", st.State, st.Label)
		}
		return fmt.Sprintf("[%s] %s counts=%v", state, st.Status, st.Counts)
	case protocol.TypeEpoch:
		ep, err := msg.GetEpochData()
		if err != nil {
			return ""
		}
		return fmt.Sprintf("[epoch %d/%d] loss=%.4f accuracy=%.2f", ep.Epoch+1, ep.Epochs, ep.Loss, ep.Accuracy)
	}
	return ""
}
