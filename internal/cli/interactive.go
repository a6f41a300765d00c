package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// InteractiveCLI handles interactive command-line interface
type InteractiveCLI struct {
	handler *CommandHandler
	reader  *bufio.Reader
	writer  io.Writer
	mu      sync.Mutex
}

// NewInteractiveCLI creates a new interactive CLI
func NewInteractiveCLI(handler *CommandHandler, in io.Reader, out io.Writer) *InteractiveCLI {
	return &InteractiveCLI{
		handler: handler,
		reader:  bufio.NewReader(in),
		writer:  out,
	}
}

// Run starts the interactive CLI loop
func (cli *InteractiveCLI) Run(ctx context.Context) error {
	cli.printWelcome()

	eventCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go cli.handleEvents(cli.handler.SubscribeEvents(eventCtx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			cli.print("\n> ")
			line, err := cli.reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if err := cli.processCommand(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					cli.println("Goodbye!")
					return nil
				}
				cli.printf("Error: %s\n", err)
			}
		}
	}
}

func (cli *InteractiveCLI) printWelcome() {
	cli.println("===========================================")
	cli.println("  Canister Chat CLI")
	cli.println("===========================================")
	cli.println("Type /help for available commands")
	cli.println("")

	status := cli.handler.cmdStatus()
	if status.User != nil {
		cli.printf("Signed in as %s <%s>\n", status.User.Name, status.User.Email)
	} else {
		cli.println("Not signed in. Use /login <email> or /otp <email> to register.")
	}
}

func (cli *InteractiveCLI) processCommand(ctx context.Context, input string) error {
	cmd, err := ParseCommand(input)
	if err != nil {
		return err
	}

	result, err := cli.handler.Execute(ctx, cmd)
	if err != nil {
		return err
	}

	cli.displayResult(result)
	return nil
}

func (cli *InteractiveCLI) displayResult(result any) {
	switch r := result.(type) {
	case SessionStatus:
		cli.printf("Session: %s\n", r.State)
		cli.printf("  Connected: %v\n", r.Connected)
		if r.User != nil {
			cli.printf("  User: %s <%s> (%s)\n", r.User.Name, r.User.Email, r.User.ID)
		}
		if r.Chat != "" {
			cli.printf("  Chat: %s\n", r.Chat)
		}

	case UserInfo:
		cli.printf("%s <%s>\n", r.Name, r.Email)
		cli.printf("  ID: %s\n", r.ID)

	case GroupInfo:
		cli.printf("Group %s (%d members)\n", r.Name, len(r.Members))
		cli.printf("  ID: %s\n", r.ID)

	case ChatInfo:
		cli.printChat(r)

	case map[string]string:
		if help, ok := r["help"]; ok {
			cli.println(help)
			return
		}
		if msg, ok := r["message"]; ok {
			cli.println(msg)
			if code, ok := r["code"]; ok {
				cli.printf("  Code: %s\n", code)
			}
			return
		}
		cli.printJSON(r)

	case map[string]any:
		switch {
		case r["users"] != nil:
			users, _ := r["users"].([]UserInfo)
			cli.printf("Found %d user(s):\n\n", len(users))
			for _, u := range users {
				presence := "offline"
				if u.IsOnline {
					presence = "online"
				} else if !u.LastSeen.IsZero() {
					presence = "last seen " + humanize.Time(u.LastSeen)
				}
				cli.printf("  %s <%s> [%s]\n", u.Name, u.Email, presence)
				cli.printf("    ID: %s\n", u.ID)
			}
		case r["groups"] != nil:
			groups, _ := r["groups"].([]GroupInfo)
			cli.printf("Found %d group(s):\n\n", len(groups))
			for _, g := range groups {
				cli.printf("  %s (%d members)\n", g.Name, len(g.Members))
				cli.printf("    ID: %s\n", g.ID)
			}
		case r["messages"] != nil:
			messages, _ := r["messages"].([]MessageInfo)
			if q, ok := r["query"].(string); ok {
				cli.printf("Search results for '%s' (%d found):\n\n", q, len(messages))
			} else {
				cli.printf("%d archived message(s):\n\n", len(messages))
			}
			for _, m := range messages {
				cli.printMessage(m)
			}
		case r["message"] != nil:
			cli.printf("%v\n", r["message"])
			if id, ok := r["message_id"]; ok {
				cli.printf("  ID: %v\n", id)
			}
			if w, ok := r["warning"]; ok {
				cli.printf("  Warning: %v\n", w)
			}
		default:
			cli.printJSON(r)
		}

	default:
		cli.printJSON(result)
	}
}

func (cli *InteractiveCLI) printChat(c ChatInfo) {
	cli.printf("%s chat with %s [%s]\n", c.Kind, c.Name, c.Status)
	if c.Error != "" {
		cli.printf("  Last refresh failed: %s\n", c.Error)
	}
	if len(c.Messages) == 0 {
		cli.println("  No messages yet.")
		return
	}
	cli.println("")
	for _, m := range c.Messages {
		cli.printMessage(m)
	}
}

func (cli *InteractiveCLI) printMessage(m MessageInfo) {
	sender := m.SenderID
	if m.IsFromMe {
		sender = "Me"
	}
	cli.printf("[%s] %s (#%d):\n", humanize.Time(m.Timestamp), sender, m.ID)
	if m.Type != "text" {
		cli.printf("  [%s] %s\n", m.Type, m.Content)
	} else {
		cli.printf("  %s\n", m.Content)
	}
}

func (cli *InteractiveCLI) printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	cli.println(string(data))
}

func (cli *InteractiveCLI) handleEvents(eventChan <-chan Event) {
	for event := range eventChan {
		data, _ := event.Data.(map[string]any)
		switch event.Type {
		case "new_messages":
			messages, _ := data["messages"].([]MessageInfo)
			total, _ := data["total"].(int)
			if len(messages) == total {
				cli.printf("\n[Loaded %d message(s)]\n", total)
			} else {
				for _, m := range messages {
					if m.IsFromMe {
						continue
					}
					cli.printf("\n[New Message] From %s:\n  %s\n", m.SenderID, m.Content)
				}
			}
			cli.print("> ")
		case "sync_failed":
			cli.printf("\n[Refresh failed: %v]\n", data["error"])
			cli.print("> ")
		case "session_changed":
			if data["user"] == (*UserInfo)(nil) {
				cli.println("\n[Signed out]")
				cli.print("> ")
			}
		}
	}
}

func (cli *InteractiveCLI) print(s string) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprint(cli.writer, s)
}

func (cli *InteractiveCLI) println(s string) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprintln(cli.writer, s)
}

func (cli *InteractiveCLI) printf(format string, args ...any) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprintf(cli.writer, format, args...)
}
