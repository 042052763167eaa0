package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shinyyama/classifieds-messaging/internal/chatsession"
	"github.com/shinyyama/classifieds-messaging/internal/client"
	"github.com/shinyyama/classifieds-messaging/internal/clientconfig"
	"github.com/shinyyama/classifieds-messaging/internal/logging"
	"go.uber.org/zap"
)

func main() {
	defaultPath, _ := clientconfig.DefaultPath()
	configFlag := flag.String("config", defaultPath, "path to chat.toml")
	baseURLFlag := flag.String("base-url", "", "API base URL (overrides config)")
	tokenFlag := flag.String("token", "", "Firebase ID token (overrides config)")
	userFlag := flag.Uint64("user", 0, "user id for servers running AUTH_MODE=header (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := clientconfig.LoadOrDefault(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", *configFlag, err)
		os.Exit(1)
	}
	if *baseURLFlag != "" {
		cfg.BaseURL = *baseURLFlag
	}
	if *tokenFlag != "" {
		cfg.Token = *tokenFlag
	}
	if *userFlag != 0 {
		cfg.UserID = *userFlag
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var opts []client.Option
	if cfg.Token != "" {
		opts = append(opts, client.WithBearerToken(cfg.Token))
	}
	if cfg.UserID != 0 {
		opts = append(opts, client.WithUserID(cfg.UserID))
	}
	c := client.New(cfg.BaseURL, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "inbox":
		err = cmdInbox(ctx, c, *jsonFlag)
	case "unread":
		err = cmdUnread(ctx, c, *jsonFlag)
	case "contact":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chat contact <listing-id> [message]")
			os.Exit(1)
		}
		err = cmdContact(ctx, c, args[1], strings.Join(args[2:], " "))
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chat open <conversation-id>")
			os.Exit(1)
		}
		err = cmdOpen(ctx, c, cfg, logger, args[1])
	case "save-config":
		err = clientconfig.Save(*configFlag, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chat [--config <path>] [--base-url <url>] [--token <t> | --user <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  inbox                     List conversations with unread counts")
	fmt.Fprintln(os.Stderr, "  unread                    Show total unread messages")
	fmt.Fprintln(os.Stderr, "  contact <listing> [text]  Message a listing's owner")
	fmt.Fprintln(os.Stderr, "  open <conversation>       Open a conversation and chat interactively")
	fmt.Fprintln(os.Stderr, "  save-config               Write the effective settings to the config file")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdInbox(ctx context.Context, c *client.Client, asJSON bool) error {
	inbox, err := c.ListInbox(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(inbox)
	}
	if len(inbox.Conversations) == 0 {
		fmt.Println("no conversations")
		return nil
	}
	for _, e := range inbox.Conversations {
		title := e.OtherParticipant.DisplayName
		if e.Listing != nil {
			title += " / " + e.Listing.Title
		}
		preview := ""
		if e.LastMessage != nil {
			preview = e.LastMessage.Content
		}
		fmt.Printf("#%-5d %-40s %3d unread  %s\n", e.ID, truncate(title, 40), e.UnreadCount, truncate(preview, 50))
	}
	fmt.Printf("total unread: %d\n", inbox.UnreadTotal)
	return nil
}

func cmdUnread(ctx context.Context, c *client.Client, asJSON bool) error {
	sum, err := c.MyUnread(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(sum)
	}
	fmt.Printf("unread: %d\n", sum.Total)
	return nil
}

func cmdContact(ctx context.Context, c *client.Client, rawID, content string) error {
	listingID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid listing id %q", rawID)
	}
	resp, err := c.ContactListing(ctx, listingID, content)
	if err != nil {
		return err
	}
	fmt.Printf("conversation #%d\n", resp.Conversation.ID)
	return nil
}

func cmdOpen(ctx context.Context, c *client.Client, cfg *clientconfig.Config, logger *zap.Logger, rawID string) error {
	convID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q", rawID)
	}
	s := chatsession.New(c, cfg.UserID,
		chatsession.WithPollInterval(cfg.PollInterval.Duration),
		chatsession.WithLogger(logger),
	)
	defer s.Close()

	if err := s.Open(ctx, convID); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	r := &renderer{}
	r.render(s.Snapshot())
	fmt.Println("type a message and press enter; /retry resends unsent text; /quit to leave")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Updates():
			r.render(s.Snapshot())
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "/retry" {
				line = s.Snapshot().Compose
				if strings.TrimSpace(line) == "" {
					fmt.Fprintln(os.Stderr, "nothing to retry")
					continue
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			go func(text string) {
				sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				err := s.Send(sendCtx, text)
				if msg := sendNotice(err, s.Snapshot().Compose); msg != "" {
					fmt.Fprintln(os.Stderr, msg)
				}
			}(line)
		}
	}
}

// sendNotice describes a failed send and the unsent text waiting in compose.
func sendNotice(err error, compose string) string {
	if err == nil || errors.Is(err, chatsession.ErrSuperseded) {
		return ""
	}
	reason := err.Error()
	if client.IsTransient(err) {
		reason = "connection problem"
	}
	if compose == "" {
		return fmt.Sprintf("! not sent: %s", reason)
	}
	return fmt.Sprintf("! not sent: %s\n  unsent: %q (/retry to send it)", reason, compose)
}

// renderer prints messages it has not shown yet and status transitions.
type renderer struct {
	shown     map[string]bool
	header    bool
	connIssue bool
}

func (r *renderer) render(snap chatsession.Snapshot) {
	if r.shown == nil {
		r.shown = map[string]bool{}
	}
	if !r.header && snap.Conversation != nil {
		r.header = true
		title := snap.Conversation.OtherParticipant.DisplayName
		if l := snap.Conversation.Listing; l != nil {
			title += " about " + l.Title
		}
		fmt.Printf("== conversation #%d with %s ==\n", snap.ConversationID, title)
	}
	for _, m := range snap.Messages {
		key := "id:" + strconv.FormatUint(m.ID, 10)
		if m.Pending {
			key = "local:" + m.LocalID
		}
		if r.shown[key] {
			continue
		}
		r.shown[key] = true
		who := "them"
		if m.Pending || m.SenderID == snap.SelfID {
			who = "me"
		}
		marker := ""
		if m.Pending {
			marker = " (sending)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content, marker)
	}
	if snap.ConnectionIssue != r.connIssue {
		r.connIssue = snap.ConnectionIssue
		if r.connIssue {
			fmt.Fprintln(os.Stderr, "! connection issue, retrying")
		} else {
			fmt.Fprintln(os.Stderr, "connection restored")
		}
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
