package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/store"
)

func main() {
	configFlag := flag.String("config", "", "config file used to find the daemon address")
	addrFlag := flag.String("addr", "", "daemon address (overrides config http.addr)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 2*time.Minute, "request timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		path := *configFlag
		if path == "" {
			if _, err := os.Stat(config.DefaultPath()); err == nil {
				path = config.DefaultPath()
			}
		}
		cfg, err := config.Load(path)
		exitOnErr(err)
		addr = cfg.HTTP.Addr
	}

	c := client.New(addr, *timeoutFlag)
	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	jsonOut := *jsonFlag
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, jsonOut)
	case "sync":
		cmdSync(ctx, c, args[1:], jsonOut)
	case "chats":
		cmdChats(ctx, c, args[1:], jsonOut)
	case "messages":
		requireArgs(args, 2, "chatsyncctl messages <chat_id> [limit]")
		cmdMessages(ctx, c, args[1:], jsonOut)
	case "send":
		requireArgs(args, 3, "chatsyncctl send <chat_id> <text>")
		p, err := c.Send(ctx, args[1], strings.Join(args[2:], " "))
		exitOnErr(err)
		if jsonOut {
			outputJSON(p)
			return
		}
		fmt.Printf("Accepted: %s (pending reconcile)\n", p.MessageID)
	case "read":
		requireArgs(args, 2, "chatsyncctl read <chat_id>")
		chat, err := c.MarkRead(ctx, args[1])
		exitOnErr(err)
		printChat(chat, jsonOut)
	case "mode":
		requireArgs(args, 3, "chatsyncctl mode <chat_id> <manual|ai-assisted|autopilot>")
		chat, err := c.SetAssistMode(ctx, args[1], store.AssistMode(args[2]))
		exitOnErr(err)
		printChat(chat, jsonOut)
	case "ignore", "unignore":
		requireArgs(args, 2, "chatsyncctl "+args[0]+" <chat_id>")
		chat, err := c.SetIgnored(ctx, args[1], args[0] == "ignore")
		exitOnErr(err)
		printChat(chat, jsonOut)
	case "pending":
		cmdPending(ctx, c, args[1:], jsonOut)
	case "reconcile":
		stats, err := c.Reconcile(ctx)
		exitOnErr(err)
		if jsonOut {
			outputJSON(stats)
			return
		}
		fmt.Printf("Checked: %d in %d chats\n", stats.Pending, stats.Chats)
		fmt.Printf("Synced:  %d\n", stats.Synced)
		fmt.Printf("Retried: %d\n", stats.Retried)
		fmt.Printf("Failed:  %d\n", stats.Failed)
		fmt.Printf("Purged:  %d\n", stats.Purged)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--config <file>] [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync [full]                 Sync all chats")
	fmt.Fprintln(os.Stderr, "  sync chat <id> [full]       Sync one chat's messages")
	fmt.Fprintln(os.Stderr, "  chats [unread] [ignored]    List chats")
	fmt.Fprintln(os.Stderr, "  messages <chat_id> [limit]  Show the latest messages of a chat")
	fmt.Fprintln(os.Stderr, "  send <chat_id> <text>       Send a text message")
	fmt.Fprintln(os.Stderr, "  read <chat_id>              Mark a chat read")
	fmt.Fprintln(os.Stderr, "  mode <chat_id> <mode>       Set assist mode")
	fmt.Fprintln(os.Stderr, "  ignore|unignore <chat_id>   Toggle the ignored flag")
	fmt.Fprintln(os.Stderr, "  pending [status]            List outbound rows")
	fmt.Fprintln(os.Stderr, "  reconcile                   Run one reconcile pass")
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	exitOnErr(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("State:       %s", st.State)
	if st.Reason != "" {
		fmt.Printf(" (%s)", st.Reason)
	}
	fmt.Println()
	fmt.Printf("Uptime:      %dms\n", st.UptimeMs)
	fmt.Printf("Chats:       %d (%d unread)\n", st.Chats, st.UnreadChats)
	fmt.Printf("Messages:    %d\n", st.Messages)
	fmt.Printf("Pending:     %d pending, %d synced, %d failed\n",
		st.Pending[store.PendingOpen], st.Pending[store.PendingSynced], st.Pending[store.PendingFailed])
	fmt.Printf("Subscribers: %d\n", st.Subscribers)
	if st.LastIncremental != "" {
		fmt.Printf("Last sync:   %s\n", st.LastIncremental)
	}
	if st.LastFull != "" {
		fmt.Printf("Last full:   %s\n", st.LastFull)
	}
}

func cmdSync(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) >= 1 && args[0] == "chat" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl sync chat <id> [full]")
			os.Exit(1)
		}
		full := len(args) >= 3 && args[2] == "full"
		stats, err := c.SyncChat(ctx, args[1], full)
		exitOnErr(err)
		if jsonOut {
			outputJSON(stats)
			return
		}
		fmt.Printf("Fetched: %d\n", stats.MessagesFetched)
		fmt.Printf("Created: %d (%d unread)\n", stats.MessagesCreated, stats.NewUnreadMessages)
		return
	}

	full := len(args) >= 1 && args[0] == "full"
	stats, err := c.SyncAll(ctx, "", full)
	exitOnErr(err)
	if jsonOut {
		outputJSON(stats)
		return
	}
	fmt.Printf("Chats synced:  %d\n", stats.ChatsSynced)
	fmt.Printf("Chats checked: %d (%d skipped)\n", stats.ChatsCheckedForMessages, stats.ChatsSkipped)
	fmt.Printf("New messages:  %d (%d unread)\n", stats.TotalMessagesCreated, stats.TotalUnreadMessages)
	if stats.ChatsWithErrors > 0 {
		fmt.Printf("Chats failed:  %d\n", stats.ChatsWithErrors)
	}
}

func cmdChats(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	var opts client.ChatListOptions
	for _, a := range args {
		switch a {
		case "unread":
			opts.Unread = true
		case "ignored":
			opts.IncludeIgnored = true
		default:
			fmt.Fprintf(os.Stderr, "unknown chats filter: %s\n", a)
			os.Exit(1)
		}
	}
	list, err := c.ListChats(ctx, opts)
	exitOnErr(err)
	if jsonOut {
		outputJSON(list)
		return
	}
	if len(list.Chats) == 0 {
		fmt.Println("No chats found.")
		return
	}
	for _, ch := range list.Chats {
		marker := " "
		if !ch.IsRead {
			marker = "*"
		}
		fmt.Printf("%s %-28s %-24s %-11s %s\n", marker, ch.ID, ch.Timestamp, ch.AssistMode, ch.Name)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	limit := 20
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "invalid limit: %s\n", args[1])
			os.Exit(1)
		}
		limit = n
	}
	list, err := c.ListMessages(ctx, args[0], limit, 0, true)
	exitOnErr(err)
	if jsonOut {
		outputJSON(list)
		return
	}
	// Newest first from the API; print oldest first.
	for i := len(list.Messages) - 1; i >= 0; i-- {
		m := list.Messages[i]
		who := m.SenderID
		if !m.Inbound() {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp, who, m.Text)
	}
}

func cmdPending(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	var status store.PendingStatus
	if len(args) >= 1 {
		status = store.PendingStatus(args[0])
	}
	rows, err := c.Pending(ctx, status, 0)
	exitOnErr(err)
	if jsonOut {
		outputJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Println("No outbound rows.")
		return
	}
	for _, p := range rows {
		fmt.Printf("%-8s %-28s %-28s attempts=%d %s\n", p.Status, p.MessageID, p.ChatID, p.SyncAttempts, p.Text)
	}
}

func printChat(ch *store.Chat, jsonOut bool) {
	if jsonOut {
		outputJSON(ch)
		return
	}
	fmt.Printf("Chat:    %s\n", ch.ID)
	fmt.Printf("Read:    %v\n", ch.IsRead)
	fmt.Printf("Ignored: %v\n", ch.IsIgnored)
	fmt.Printf("Mode:    %s\n", ch.AssistMode)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
