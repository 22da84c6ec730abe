// Package cli implements the interactive console of DataLink.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/mcdatalink/datalink/internal/connector"
	"github.com/mcdatalink/datalink/internal/db"
	"github.com/mcdatalink/datalink/internal/events"
)

// Link is the part of the supervisor the console drives.
type Link interface {
	Status() connector.LinkStatus
	Reconnect() error
	RequestSendStats(ctx context.Context, id uuid.UUID) error
	RequestSendAllStats(ctx context.Context) error
}

// CLI provides an interactive command-line interface.
type CLI struct {
	link     Link
	registry *db.PlayersDatabase
	eventBus *events.EventBus
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(link Link, registry *db.PlayersDatabase, eventBus *events.EventBus, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		link:     link,
		registry: registry,
		eventBus: eventBus,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nDataLink console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "datalink> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute runs one command. It reports true when the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return false, c.printStatus(ctx)
	case "players", "p":
		return false, c.printPlayers(ctx)
	case "sendstats":
		return false, c.cmdSendStats(ctx, args)
	case "reconnect":
		return false, c.cmdReconnect()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down DataLink...")
		c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Command", "Description"})
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"status", "Show the control server link"},
		{"players", "List known players"},
		{"sendstats [uuid]", "Push stats of one player, or of everyone"},
		{"reconnect", "Drop the session and reconnect"},
		{"quit", "Shut down DataLink"},
		{"help", "Show this help message"},
	})
	tw.Render()
}

func (c *CLI) printStatus(ctx context.Context) error {
	st := c.link.Status()
	online, err := c.registry.ListPlayerIDs(ctx, true)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetAutoWrapText(false)
	tw.AppendBulk([][]string{
		{"State", strings.ToUpper(st.State.String())},
		{"Remote", st.Remote},
		{"Connected", since(st.ConnectedSince)},
		{"Last inbound", since(st.LastInbound)},
		{"Reconnects", strconv.FormatInt(st.Reconnects, 10)},
		{"Online players", strconv.Itoa(len(online))},
		{"Last error", orDash(st.LastError)},
	})
	tw.Render()
	return nil
}

func (c *CLI) printPlayers(ctx context.Context) error {
	players, err := c.registry.ListPlayers(ctx)
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"UUID", "Name", "Online", "Last seen"})
	tw.SetAutoWrapText(false)
	for _, p := range players {
		online := "no"
		if p.Online {
			online = "yes"
		}
		tw.Append([]string{p.ID.String(), orDash(p.Name), online, p.LastSeen.Format(time.DateTime)})
	}
	tw.SetFooter([]string{"", "", "Total", strconv.Itoa(len(players))})
	tw.Render()
	return nil
}

func (c *CLI) cmdSendStats(ctx context.Context, args []string) error {
	if len(args) == 0 {
		if err := c.link.RequestSendAllStats(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Sending stats of all known players.")
		return nil
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid player id %q", args[0])
	}
	err = c.link.RequestSendStats(ctx, id)
	if errors.Is(err, connector.ErrNoStats) {
		fmt.Fprintf(c.out, "Player %s has no stats.\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent stats of %s.\n", id)
	return nil
}

func (c *CLI) cmdReconnect() error {
	if err := c.link.Reconnect(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Reconnecting to the control server.")
	return nil
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s ago)", t.Format(time.DateTime), time.Since(t).Truncate(time.Second))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
