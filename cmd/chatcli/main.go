// Command chatcli is a line-oriented chat client. It logs in over REST and
// then talks to the server over the websocket.
//
//	/dm <user> <text>      send a direct message
//	/group <group> <text>  send to a group
//	/join <group>          join a group room
//	/leave <group>         leave a group room
//	/read <id>...          mark messages read
//	/retry <temp id>       resend a failed message
//	/quit
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-messenger/internal/chatclient"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

type loginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

func main() {
	// GOCHAT_CLIENT_* variables and config.yaml tune the client defaults.
	ackDefault := chatclient.DefaultAckTimeout
	if cfg, err := config.Load("", nil); err == nil {
		ackDefault = cfg.Client.AckTimeout
	}

	serverURL := flag.String("server", "http://localhost:8000", "chat server base URL")
	email := flag.String("email", "", "account email")
	password := flag.String("password", os.Getenv("GOCHAT_PASSWORD"), "account password (or GOCHAT_PASSWORD)")
	ackTimeout := flag.Duration("ack-timeout", ackDefault, "time to wait for a send acknowledgment")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *serverURL, *email, *password, *ackTimeout); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func login(ctx context.Context, serverURL, email, password string) (loginResponse, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return loginResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return loginResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return loginResponse{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return loginResponse{}, fmt.Errorf("login: %s", resp.Status)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return loginResponse{}, fmt.Errorf("decode login response: %w", err)
	}
	return lr, nil
}

func wsURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	}
	return serverURL + "/ws"
}

func run(logger *slog.Logger, serverURL, email, password string, ackTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverURL = strings.TrimSuffix(serverURL, "/")
	session, err := login(ctx, serverURL, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%d)\n", session.User.Username, session.User.Id)

	client := chatclient.New(chatclient.Options{
		URL:        wsURL(serverURL),
		Token:      session.Token,
		UserId:     session.User.Id,
		AckTimeout: ackTimeout,
		Logger:     logger,
		OnEvent:    printEvent,
		OnResponse: func(id int, resp *protocol.Response) {
			if resp.Error != "" {
				fmt.Printf("! request %d: %s\n", id, resp.Error)
			}
		},
		OnReconnect: func() { fmt.Println("* reconnected") },
	})
	client.Outbox().OnChange(func(e chatclient.Entry) {
		switch e.State {
		case chatclient.Sent:
			fmt.Printf("  [%s] sent as #%d\n", e.TempId, e.Message.Id)
		case chatclient.Failed:
			if e.SupersededBy != 0 {
				fmt.Printf("  [%s] delivered after all as #%d\n", e.TempId, e.SupersededBy)
				return
			}
			fmt.Printf("  [%s] failed: %s (/retry %s)\n", e.TempId, e.Error, e.TempId)
		}
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				client.Close()
				return nil
			}
			if err := handleLine(client, line); err != nil {
				fmt.Println("!", err)
			}
		}
	}
}

func handleLine(c *chatclient.Client, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	if cmd == "" {
		return nil
	}

	targetAndText := func() (int, string, error) {
		idStr, text, _ := strings.Cut(rest, " ")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return 0, "", fmt.Errorf("usage: %s <id> <text>", cmd)
		}
		return id, text, nil
	}

	switch cmd {
	case "/dm":
		id, text, err := targetAndText()
		if err != nil {
			return err
		}
		e, err := c.SendDirect(id, text, "")
		if err == nil {
			fmt.Printf("  [%s] sending\n", e.TempId)
		}
		return err
	case "/group":
		id, text, err := targetAndText()
		if err != nil {
			return err
		}
		e, err := c.SendGroup(id, text, "")
		if err == nil {
			fmt.Printf("  [%s] sending\n", e.TempId)
		}
		return err
	case "/join", "/leave":
		id, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return fmt.Errorf("usage: %s <group>", cmd)
		}
		if cmd == "/join" {
			return c.JoinGroup(id)
		}
		return c.LeaveGroup(id)
	case "/read":
		var ids []int
		for _, f := range strings.Fields(rest) {
			id, err := strconv.Atoi(f)
			if err != nil {
				return fmt.Errorf("invalid message id %q", f)
			}
			ids = append(ids, id)
		}
		return c.MarkRead(ids...)
	case "/retry":
		_, err := c.Retry(strings.TrimSpace(rest))
		return err
	}
	return fmt.Errorf("unknown command %s", cmd)
}

func printEvent(ev *protocol.Event) {
	switch {
	case ev.DirectMessage != nil:
		m := ev.DirectMessage
		fmt.Printf("<%d> %s\n", m.SenderId, m.Text)
	case ev.GroupMessage != nil:
		m := ev.GroupMessage
		if m.MessageType == types.MessageTypeSystem {
			fmt.Printf("[group %d] * %s\n", m.GroupId, m.Text)
			return
		}
		fmt.Printf("[group %d] <%d> %s\n", m.GroupId, m.SenderId, m.Text)
	case ev.PresenceUpdate != nil:
		fmt.Printf("* online: %v\n", ev.PresenceUpdate.Online)
	case ev.Typing != nil:
		if ev.Typing.Active {
			fmt.Printf("* %d is typing\n", ev.Typing.From)
		}
	case ev.MessageStatus != nil:
		for _, ch := range ev.MessageStatus.Changes {
			if ch.ReadBy != nil {
				fmt.Printf("* message #%d read by %d\n", ch.MessageId, ch.ReadBy.UserId)
				continue
			}
			fmt.Printf("* message #%d %s\n", ch.MessageId, ch.Status)
		}
	case ev.GroupLifecycle != nil:
		gl := ev.GroupLifecycle
		fmt.Printf("* group %d %s\n", gl.GroupId, gl.Kind)
	case ev.Notification != nil:
		fmt.Printf("* %s\n", ev.Notification.Text)
	}
}
