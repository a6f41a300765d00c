package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

// HeadlessCLI speaks newline-delimited JSON: one Request per input line, one
// Response per request, with events interleaved as they happen.
type HeadlessCLI struct {
	handler *CommandHandler
	scanner *bufio.Scanner

	mu  sync.Mutex
	enc *json.Encoder
}

const maxRequestSize = 1 << 20

func NewHeadlessCLI(handler *CommandHandler, in io.Reader, out io.Writer) *HeadlessCLI {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	return &HeadlessCLI{
		handler: handler,
		scanner: scanner,
		enc:     json.NewEncoder(out),
	}
}

// Run serves requests until EOF, a quit request or ctx cancellation.
func (cli *HeadlessCLI) Run(ctx context.Context) error {
	cli.ok("", map[string]string{"status": "ready", "mode": "headless"})

	eventCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range cli.handler.SubscribeEvents(eventCtx) {
			cli.emit(eventEnvelope{
				Type:      "event",
				Event:     event.Type,
				Timestamp: event.Timestamp,
				Data:      event.Data,
			})
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	for cli.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(cli.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if quit := cli.handle(ctx, line); quit {
			return nil
		}
	}
	if err := cli.scanner.Err(); err != nil {
		cli.fail("", fmt.Sprintf("read error: %v", err), "")
		return err
	}
	return nil
}

// handle runs one request and reports whether it asked to quit.
func (cli *HeadlessCLI) handle(ctx context.Context, line []byte) bool {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		cli.fail("", fmt.Sprintf("invalid JSON: %v", err), "")
		return false
	}

	switch req.Command {
	case "":
		cli.fail(req.ID, "missing command field", "")
		return false
	case "subscribe":
		// Events are always streamed.
		cli.ok(req.ID, map[string]string{"message": "subscribed to events"})
		return false
	case "quit", "exit":
		cli.ok(req.ID, map[string]string{"message": "goodbye"})
		return true
	}

	result, err := cli.handler.Execute(ctx, &Command{
		Name: req.Command,
		Args: paramsToArgs(req.Command, req.Params),
	})
	switch {
	case errors.Is(err, errQuit):
		return true
	case err != nil:
		cli.fail(req.ID, err.Error(), string(domain.KindOf(err)))
	default:
		cli.ok(req.ID, result)
	}
	return false
}

// paramsToArgs converts named JSON params into the positional arguments the
// command handler expects.
func paramsToArgs(command string, params map[string]any) []string {
	if params == nil {
		return nil
	}

	var args []string
	str := func(key string) {
		if s, ok := params[key].(string); ok {
			args = append(args, s)
		}
	}
	num := func(key string) {
		switch v := params[key].(type) {
		case float64:
			args = append(args, strconv.FormatUint(uint64(v), 10))
		case string:
			args = append(args, v)
		}
	}

	switch command {
	case "otp", "login":
		str("email")

	case "register":
		str("email")
		str("code")
		str("name")

	case "profile":
		if name, ok := params["name"].(string); ok {
			args = append(args, "name", name)
		} else if avatar, ok := params["avatar"].(string); ok {
			args = append(args, "avatar", avatar)
		}

	case "open", "o":
		str("user_id")

	case "group":
		str("group_id")

	case "send":
		str("text")

	case "send-media":
		str("type")
		str("reference")

	case "create-group":
		str("name")
		if members, ok := params["members"].([]any); ok {
			for _, m := range members {
				if s, ok := m.(string); ok {
					args = append(args, s)
				}
			}
		}

	case "add-member":
		str("user_id")

	case "read", "delete":
		num("message_id")

	case "search":
		str("query")
		num("limit")

	case "history":
		num("limit")
	}

	return args
}

type eventEnvelope struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func (cli *HeadlessCLI) ok(id string, data any) {
	cli.emit(Response{ID: id, Success: true, Data: data})
}

func (cli *HeadlessCLI) fail(id, message, kind string) {
	cli.emit(Response{ID: id, Success: false, Error: message, Kind: kind})
}

// emit writes one JSON line. Encoding errors are dropped; the peer sees a
// missing reply.
func (cli *HeadlessCLI) emit(v any) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	_ = cli.enc.Encode(v)
}
