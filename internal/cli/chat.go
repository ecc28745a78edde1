package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chorus/internal/chat"
	"chorus/internal/gateway/websocket"
	"chorus/internal/notify"
	"chorus/internal/runner"
)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	var (
		userID  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the characters of your room",
		Long: `Send messages to a running chorus server and print the replies of
every character in your room as they arrive.

Without a message argument an interactive session starts. In it, a number
picks the matching entry of the last menu and /continue resumes truncated
replies.`,
		Example: `  # Send a single message
  chorus chat "大家好"

  # Interactive chat as a given user
  chorus chat --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFor(cmd)
			if err != nil {
				return err
			}
			if userID == "" {
				userID = defaultUser()
			}
			s, err := dialChat(client.base, userID, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()
			s.timeout = timeout

			if len(args) > 0 {
				return s.Send(strings.Join(args, " "))
			}
			return s.Interactive(cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id (defaults to $USER)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for a turn")

	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli-" + u
	}
	return "cli"
}

// chatSession is one WebSocket connection subscribed to a user's
// notifications.
type chatSession struct {
	conn    *gws.Conn
	user    string
	out     io.Writer
	timeout time.Duration
	room    string
	menu    []chat.MenuItem
}

func dialChat(base, userID string, out io.Writer) (*chatSession, error) {
	url := "ws" + strings.TrimPrefix(strings.TrimRight(base, "/"), "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w\nIs the server running? Start it with: chorus serve", url, err)
	}
	s := &chatSession{conn: conn, user: userID, out: out, timeout: 3 * time.Minute}
	if err := conn.WriteJSON(websocket.WSMessage{Type: websocket.TypeSubscribe, User: userID}); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *chatSession) Close() error {
	return s.conn.Close()
}

// Send posts one message and prints notifications until its turn ends.
func (s *chatSession) Send(text string) error {
	msg := websocket.WSMessage{Type: websocket.TypeChat, User: s.user, Text: text}
	if text == "/continue" {
		if s.room == "" {
			return errors.New("no room yet: send a message first")
		}
		msg = websocket.WSMessage{Type: websocket.TypeContinue, Room: s.room}
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return err
	}
	return s.await()
}

// await prints incoming messages until a turn or an error arrives.
func (s *chatSession) await() error {
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.timeout))
		var msg websocket.WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch msg.Type {
		case websocket.TypeNotify:
			s.render(msg.Data)
		case websocket.TypeError:
			return fmt.Errorf("%s: %s", msg.Code, msg.Message)
		case websocket.TypeTurn:
			var turn runner.Turn
			if err := json.Unmarshal(msg.Data, &turn); err != nil {
				return err
			}
			if turn.RoomID != "" {
				s.room = turn.RoomID
			}
			if turn.Outcome != runner.OutcomeReplied {
				fmt.Fprintf(s.out, "(%s)\n", turn.Outcome)
			}
			return nil
		}
	}
}

func (s *chatSession) render(data json.RawMessage) {
	var env notify.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	who := env.Character
	if who == "" {
		who = "chorus"
	}
	switch env.Kind {
	case notify.KindText:
		fmt.Fprintf(s.out, "[%s] %s\n", who, env.Text)
	case notify.KindMedia:
		if env.Media != nil {
			fmt.Fprintf(s.out, "[%s] <%s> %s\n", who, env.Media.Kind, env.Media.URL)
		}
	case notify.KindMenu:
		if env.Menu == nil {
			return
		}
		s.menu = env.Menu.Items
		if env.Menu.Header != "" {
			fmt.Fprintln(s.out, env.Menu.Header)
		}
		for i, item := range env.Menu.Items {
			fmt.Fprintf(s.out, "  %d. %s\n", i+1, item.Label)
		}
		if env.Menu.Footer != "" {
			fmt.Fprintln(s.out, env.Menu.Footer)
		}
	case notify.KindTyping:
		fmt.Fprintln(s.out, "…")
	}
}

// resolve maps a menu number to its command.
func (s *chatSession) resolve(input string) string {
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > len(s.menu) {
		return input
	}
	return s.menu[n-1].Command
}

// Interactive reads lines from in until EOF or exit.
func (s *chatSession) Interactive(in io.Reader) error {
	prompt := false
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		prompt = true
		fmt.Fprintln(s.out, "Chorus Interactive Chat")
		fmt.Fprintln(s.out, "-----------------------")
		fmt.Fprintln(s.out, "Type 'exit' or 'quit' to end the session")
		fmt.Fprintln(s.out)
	}

	reader := bufio.NewReader(in)
	for {
		if prompt {
			fmt.Fprint(s.out, "You: ")
		}
		line, err := reader.ReadString('\n')
		text := strings.TrimSpace(line)
		switch strings.ToLower(text) {
		case "exit", "quit":
			return nil
		case "":
		default:
			if sendErr := s.Send(s.resolve(text)); sendErr != nil {
				fmt.Fprintf(s.out, "Error: %v\n", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}
