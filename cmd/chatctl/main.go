package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Syam916/chitrasethu-sub002/internal/config"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(config.SocketPath(*profileFlag))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "conversations":
		cmdConversations(c, *jsonFlag)
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl open <participant-id> [name]")
			os.Exit(1)
		}
		name := ""
		if len(args) > 2 {
			name = args[2]
		}
		cmdOpen(c, args[1], name)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatctl send <text>")
			os.Exit(1)
		}
		cmdSend(c, strings.Join(args[1:], " "))
	case "messages":
		cmdMessages(c, *jsonFlag)
	case "read":
		cmdRead(c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                   Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations            List conversations")
	fmt.Fprintln(os.Stderr, "  open <id> [name]         Open a conversation with a participant")
	fmt.Fprintln(os.Stderr, "  messages                 Show the open conversation's timeline")
	fmt.Fprintln(os.Stderr, "  send <text>              Send a message in the open conversation")
	fmt.Fprintln(os.Stderr, "  read                     Mark the open conversation read")
}

type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get("http://chatd" + path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func (c *client) post(path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	resp, err := c.http.Post("http://chatd"+path, "application/json", payload)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp map[string]any
	if err := c.get("/v1/status", &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State:     %v\n", resp["state"])
	fmt.Printf("Connected: %v\n", resp["connected"])
	fmt.Printf("User:      %v (%v)\n", resp["selfName"], resp["selfId"])
	if active, ok := resp["activeConversation"]; ok {
		fmt.Printf("Open:      %v\n", active)
	}
}

func cmdConversations(c *client, jsonOut bool) {
	var convs []store.Conversation
	if err := c.get("/v1/conversations", &convs); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, conv := range convs {
		marker := " "
		if conv.UnreadCount > 0 {
			marker = fmt.Sprintf("%d", conv.UnreadCount)
		}
		fmt.Printf("%-2s %-20s %s\n", marker, conv.ParticipantName, conv.LastMessage)
	}
}

func cmdOpen(c *client, participantID, participantName string) {
	var resp struct {
		ConversationID string `json:"conversationId"`
	}
	body := map[string]string{
		"participantId":   participantID,
		"participantName": participantName,
	}
	if err := c.post("/v1/conversations/open", body, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("opened %s\n", resp.ConversationID)
}

func cmdMessages(c *client, jsonOut bool) {
	var msgs []store.Message
	if err := c.get("/v1/messages", &msgs); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.CreatedAt).Format("15:04")
		body := m.Text
		if m.AttachmentURL != "" {
			body = fmt.Sprintf("[%s] %s", m.MessageType, m.AttachmentFileName)
		}
		state := ""
		if m.SendState != "" && m.SendState != store.SendStateSent {
			state = " (" + m.SendState + ")"
		}
		fmt.Printf("%s %s: %s%s\n", ts, m.SenderID, body, state)
	}
}

func cmdSend(c *client, text string) {
	var resp struct {
		ClientID string `json:"clientId"`
	}
	if err := c.post("/v1/messages/text", map[string]string{"text": text}, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("queued %s\n", resp.ClientID)
}

func cmdRead(c *client) {
	if err := c.post("/v1/conversations/read", nil, nil); err != nil {
		fail(err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
