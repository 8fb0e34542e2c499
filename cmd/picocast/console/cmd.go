package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/picocast/cmd/picocast/subcmd"
	"github.com/temoto/picocast/helpers/cli"
	"github.com/temoto/picocast/internal/state"
	"github.com/temoto/picocast/measure"
)

const modName = "console"

var Mod = subcmd.Mod{Name: modName, Usage: "serve with interactive operator prompt", Main: Main}

type command struct {
	name string
	help string
	run  func(c *console, args []string) error
}

// filled in init, help refers to commands
var commands []command

func init() {
	commands = []command{
		{"status", "connection and pending requests", (*console).status},
		{"log", "log [n] - last n measurements", (*console).log},
		{"feed", "measurements received since last feed", (*console).feed},
		{"clear", "clear measurement log", func(c *console, _ []string) error { c.g.Controller.ClearLog(); return nil }},
		{"logging", "logging [on|off] - toggle or set", (*console).logging},
		{"resync", "request full backlog from device", func(c *console, _ []string) error { c.g.Controller.RequestFullResync(); return nil }},
		{"reset", "let device discard backlog on next resync", func(c *console, _ []string) error { c.g.Controller.RequestBacklogReset(); return nil }},
		{"stat", "counters", func(c *console, _ []string) error { fmt.Fprintln(c.w, c.g.Stat()); return nil }},
		{"qr", "session endpoint as QR code", (*console).qr},
		{"help", "", (*console).help},
		{"exit", "stop and quit", nil},
	}
}

type console struct {
	g   *state.Global
	w   io.Writer
	sub *measure.Subscription
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	if err := g.Start(); err != nil {
		return errors.Annotate(err, "start")
	}
	c := newConsole(g, os.Stdout)
	defer c.sub.Cancel()

	cli.MainLoop(modName, func(line string) {
		if strings.TrimSpace(line) == "exit" {
			g.StopWait(5 * time.Second)
			os.Exit(0)
		}
		c.exec(line)
	}, newCompleter())
	g.StopWait(5 * time.Second)
	return nil
}

func newConsole(g *state.Global, w io.Writer) *console {
	return &console{g: g, w: w, sub: g.Controller.Subscribe(g.Config.Session.FeedCapacity)}
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(commands))
	for _, cmd := range commands {
		suggests = append(suggests, prompt.Suggest{Text: cmd.name, Description: cmd.help})
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func (c *console) exec(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	for _, cmd := range commands {
		if cmd.name == parts[0] && cmd.run != nil {
			if err := cmd.run(c, parts[1:]); err != nil {
				c.g.Log.Errorf("%s: %v", cmd.name, err)
			}
			return
		}
	}
	c.g.Log.Errorf("unknown command=%q, try help", parts[0])
}

func (c *console) status(_ []string) error {
	ctl := c.g.Controller
	all, reset := ctl.Pending()
	fmt.Fprintf(c.w, "endpoint=%s:%d connected=%t logging=%t log=%d pending.resync=%t pending.reset=%t\n",
		c.g.IP, c.g.Config.Network.TcpPort, ctl.IsConnected(), ctl.LoggingEnabled(), ctl.LogLen(), all, reset)
	return nil
}

func (c *console) log(args []string) error {
	n := 10
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
			return errors.NotValidf("n=%q", args[0])
		}
	}
	ms := c.g.Controller.Log()
	if len(ms) > n {
		ms = ms[len(ms)-n:]
	}
	for _, m := range ms {
		fmt.Fprintln(c.w, m.String())
	}
	return nil
}

func (c *console) feed(_ []string) error {
	for {
		select {
		case m := <-c.sub.C:
			fmt.Fprintln(c.w, m.String())
		default:
			return nil
		}
	}
}

func (c *console) logging(args []string) error {
	ctl := c.g.Controller
	switch {
	case len(args) == 0:
		ctl.ToggleLogging()
	case args[0] == "on":
		ctl.SetLoggingEnabled(true)
	case args[0] == "off":
		ctl.SetLoggingEnabled(false)
	default:
		return errors.NotValidf("logging %q", args[0])
	}
	fmt.Fprintf(c.w, "logging=%t\n", ctl.LoggingEnabled())
	return nil
}

func (c *console) qr(_ []string) error {
	s, err := renderQR(fmt.Sprintf("%s:%d", c.g.IP, c.g.Config.Network.TcpPort))
	if err != nil {
		return err
	}
	fmt.Fprint(c.w, s)
	return nil
}

func (c *console) help(_ []string) error {
	for _, cmd := range commands {
		fmt.Fprintf(c.w, "%-8s %s\n", cmd.name, cmd.help)
	}
	return nil
}

// renderQR draws two modules per character cell with half blocks.
func renderQR(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", errors.Annotate(err, "qrcode")
	}
	bm := q.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bm); y += 2 {
		for x := range bm[y] {
			top := bm[y][x]
			bottom := y+1 < len(bm) && bm[y+1][x]
			switch {
			case top && bottom:
				sb.WriteString("█")
			case top:
				sb.WriteString("▀")
			case bottom:
				sb.WriteString("▄")
			default:
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
