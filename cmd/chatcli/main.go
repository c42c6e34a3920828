package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"conversa/internal/client"
	"conversa/internal/models"
)

// printer writes each message of a conversation once, plus status changes
// of messages sent from this terminal.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	roomID string
	seen   map[models.ID]client.Status
}

func newPrinter(out io.Writer, roomID string) *printer {
	return &printer{out: out, roomID: roomID, seen: make(map[models.ID]client.Status)}
}

func (p *printer) conversation(conv client.Conversation) {
	if conv.RoomID != p.roomID {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range conv.Messages {
		prev, ok := p.seen[e.ID]
		p.seen[e.ID] = e.Status
		switch {
		case !ok:
			if e.Status == client.StatusDelivered {
				_, _ = fmt.Fprintln(p.out, formatMessage(e.Message))
			} else if e.Status == client.StatusFailed {
				_, _ = fmt.Fprintf(p.out, "%s (not sent)\n", formatMessage(e.Message))
			}
		case prev == client.StatusPending && e.Status == client.StatusDelivered:
			_, _ = fmt.Fprintln(p.out, formatMessage(e.Message))
		case prev != client.StatusFailed && e.Status == client.StatusFailed:
			_, _ = fmt.Fprintf(p.out, "%s (not sent)\n", formatMessage(e.Message))
		}
	}
}

func formatMessage(msg models.Message) string {
	ts := msg.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
		ts = t.Local().Format("15:04")
	}
	name := msg.SenderName
	if name == "" {
		name = string(msg.SenderID)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, name, msg.Content)
}

func relayURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	return u.String()
}

func run(ctx context.Context) error {
	addr := flag.String("addr", "localhost:3001", "relay address (host:port or full ws:// URL)")
	roomID := flag.String("room", "", "room to join, e.g. 1-2")
	selfID := flag.String("id", "", "your participant id")
	name := flag.String("name", "", "your display name")
	senderType := flag.String("type", string(models.SenderTypePatient), "patient or professional")
	toID := flag.String("to", "", "receiver participant id")
	toName := flag.String("to-name", "", "receiver display name")
	flag.Parse()

	if *roomID == "" || *selfID == "" {
		flag.Usage()
		return fmt.Errorf("-room and -id are required")
	}
	switch models.SenderType(*senderType) {
	case models.SenderTypePatient, models.SenderTypeProfessional:
	default:
		return fmt.Errorf("-type must be patient or professional, got %q", *senderType)
	}

	p := newPrinter(os.Stdout, *roomID)
	c := client.New(client.Config{
		URL:            relayURL(*addr),
		SelfID:         models.ID(*selfID),
		Logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		OnConversation: p.conversation,
		OnState: func(s client.State) {
			_, _ = fmt.Fprintf(os.Stderr, "* %s\n", s)
		},
		OnError: func(e models.ServerError) {
			_, _ = fmt.Fprintf(os.Stderr, "* relay error: %v\n", &e)
		},
	})
	defer func() { _ = c.Close() }()

	if err := c.Connect(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "* %v, retrying in background\n", err)
	}
	if err := c.JoinRoom(*roomID); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			_, err := c.SendMessage(*roomID, models.Message{
				SenderID:     models.ID(*selfID),
				SenderName:   *name,
				SenderType:   models.SenderType(*senderType),
				ReceiverID:   models.ID(*toID),
				ReceiverName: *toName,
				Content:      line,
			})
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "* send failed: %v\n", err)
			}
			c.MarkRoomRead(*roomID)
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
