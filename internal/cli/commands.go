// Package cli renders captures and live connections as tables and runs the
// interactive operator console.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/db"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/network"
)

// Connections exposes the live connections.
type Connections interface {
	List() []network.ConnectionInfo
	Get(id string) (*network.Connection, bool)
}

// Captures exposes stored captures.
type Captures interface {
	Query(ctx context.Context, filter db.CaptureFilter) ([]events.Event, error)
	Stats(ctx context.Context, top int) (db.Stats, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg         *config.Config
	connections Connections
	captures    Captures
	shutdown    func()

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler reading stdin. captures may be nil when
// storage is disabled; shutdown is called by the quit command.
func NewCLI(cfg *config.Config, connections Connections, captures Captures, shutdown func()) *CLI {
	return &CLI{
		cfg:         cfg,
		connections: connections,
		captures:    captures,
		shutdown:    shutdown,
		in:          os.Stdin,
		out:         os.Stdout,
	}
}

// SetIO replaces the console input and output.
func (c *CLI) SetIO(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
}

// Start runs the command loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nbottled_honey console ready. Type 'help' for available commands.")

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
		fmt.Fprint(c.out, "bottled_honey> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		PrintConnections(c.out, c.connections.List())
	case "captures", "c":
		return c.cmdCaptures(ctx, args)
	case "stats":
		return c.cmdStats(ctx)
	case "close":
		return c.cmdClose(args)
	case "prune":
		return c.cmdPrune(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down bottled_honey...")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  status             Show live connections")
	fmt.Fprintln(c.out, "  captures [n]       Show the n most recent captures (default 20)")
	fmt.Fprintln(c.out, "  stats              Show capture statistics")
	fmt.Fprintln(c.out, "  close <id>         Terminate a live connection")
	fmt.Fprintln(c.out, "  prune              Remove captures past the retention window")
	fmt.Fprintln(c.out, "  quit               Shut down the honeypot")
	fmt.Fprintln(c.out, "  help               Show this help message")
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdCaptures(ctx context.Context, args []string) error {
	if c.captures == nil {
		return fmt.Errorf("capture storage is disabled")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	captures, err := c.captures.Query(ctx, db.CaptureFilter{Limit: limit})
	if err != nil {
		return err
	}
	PrintCaptures(c.out, captures)
	return nil
}

func (c *CLI) cmdStats(ctx context.Context) error {
	if c.captures == nil {
		return fmt.Errorf("capture storage is disabled")
	}
	stats, err := c.captures.Stats(ctx, 10)
	if err != nil {
		return err
	}
	PrintStats(c.out, stats)
	return nil
}

func (c *CLI) cmdClose(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: close <id>")
	}
	conn, ok := c.connections.Get(args[0])
	if !ok {
		return fmt.Errorf("connection not found: %s", args[0])
	}
	conn.Interrupt()
	log.Info().Str("session", args[0]).Msg("CLI: connection closed")
	fmt.Fprintf(c.out, "Closing connection %s\n", args[0])
	return nil
}

func (c *CLI) cmdPrune(ctx context.Context) error {
	if c.captures == nil {
		return fmt.Errorf("capture storage is disabled")
	}
	retention := c.cfg.Storage.Retention()
	if retention <= 0 {
		return fmt.Errorf("retention is disabled")
	}
	removed, err := c.captures.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Removed %d captures\n", removed)
	return nil
}

// PrintConnections renders live connections as a table.
func PrintConnections(w io.Writer, connections []network.ConnectionInfo) {
	fmt.Fprintln(w)
	if len(connections) == 0 {
		fmt.Fprintln(w, "No live connections")
		fmt.Fprintln(w)
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"ID", "Remote", "State", "Packets", "Connected", "Idle"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	now := time.Now()
	for _, conn := range connections {
		tw.Append([]string{
			conn.ID,
			fmt.Sprintf("%s:%d", conn.RemoteAddr, conn.RemotePort),
			conn.State,
			strconv.Itoa(conn.Packets),
			formatDuration(now.Sub(conn.ConnectedAt)),
			formatDuration(now.Sub(conn.LastActivity)),
		})
	}

	tw.Render()
	fmt.Fprintln(w)
}

// PrintCaptures renders captures as a table, in the order given.
func PrintCaptures(w io.Writer, captures []events.Event) {
	fmt.Fprintln(w)
	if len(captures) == 0 {
		fmt.Fprintln(w, "No captures")
		fmt.Fprintln(w)
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Ended", "Remote", "Outcome", "Reason", "Release", "Player", "Password", "Packets", "Duration"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, ev := range captures {
		password := "-"
		if v, ok := ev.Field(events.FieldPasswordAttempt); ok {
			password = strconv.Quote(v)
		} else if ev.PasswordRequested {
			password = "(asked)"
		}

		tw.Append([]string{
			ev.EndedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%s:%d", ev.RemoteAddr, ev.RemotePort),
			string(ev.Outcome),
			orDash(string(ev.Reason)),
			fieldOrDash(ev, events.FieldRelease),
			fieldOrDash(ev, events.FieldPlayerName),
			password,
			strconv.Itoa(ev.PacketCount),
			formatDuration(ev.Duration()),
		})
	}

	tw.Render()
	fmt.Fprintln(w)
}

// PrintStats renders capture statistics.
func PrintStats(w io.Writer, stats db.Stats) {
	fmt.Fprintf(w, "\n  Captures:           %d\n", stats.Total)
	fmt.Fprintf(w, "  Unique addresses:   %d\n", stats.UniqueAddresses)
	fmt.Fprintf(w, "  Password requested: %d\n", stats.PasswordRequested)
	if !stats.FirstSeen.IsZero() {
		fmt.Fprintf(w, "  First seen:         %s\n", stats.FirstSeen.Format(time.RFC3339))
		fmt.Fprintf(w, "  Last seen:          %s\n", stats.LastSeen.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	printCountMap(w, "Outcome", stats.ByOutcome)
	printCountMap(w, "Reason", stats.ByReason)
	printCounts(w, "Address", stats.TopAddresses)
	printCounts(w, "Player", stats.TopNames)
	printCounts(w, "Password", stats.TopPasswords)
	printCounts(w, "Release", stats.TopReleases)
}

func printCountMap(w io.Writer, title string, m map[string]int) {
	counts := make([]db.Count, 0, len(m))
	for k, v := range m {
		counts = append(counts, db.Count{Value: k, Count: v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})
	printCounts(w, title, counts)
}

func printCounts(w io.Writer, title string, counts []db.Count) {
	if len(counts) == 0 {
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{title, "Count"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, c := range counts {
		tw.Append([]string{c.Value, strconv.Itoa(c.Count)})
	}
	tw.Render()
	fmt.Fprintln(w)
}

func fieldOrDash(ev events.Event, name string) string {
	if v, ok := ev.Field(name); ok {
		return v
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Truncate(time.Second).String()
	}
}
