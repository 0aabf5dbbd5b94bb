// Package shell implements the interactive replay console.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"google.golang.org/grpc"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/models"
	"github.com/miradorstack/mirador-replay/internal/replay"
)

// Conn is the connection surface the shell needs. *api.Client implements it.
type Conn interface {
	replay.Inferer
	Address() string
	Close() error
	IsLive(ctx context.Context) (bool, error)
	IsReady(ctx context.Context) (bool, error)
	ModelSignature(ctx context.Context, modelName string) (models.ModelSignature, error)
}

var _ Conn = (*api.Client)(nil)

// Dialer opens a connection to addr.
type Dialer func(ctx context.Context, addr string) (Conn, error)

// DialClient dials with api.Dial.
func DialClient(opts ...grpc.DialOption) Dialer {
	return func(ctx context.Context, addr string) (Conn, error) {
		client, err := api.Dial(ctx, addr, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Config configures a Shell.
type Config struct {
	ServerAddress  string
	DumpDir        string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Dial           Dialer
	// Prompt is printed before each line when set.
	Prompt string
	Logger *slog.Logger
}

var (
	okMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render("✓")
	failMark = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render("✗")
	heading  = lipgloss.NewStyle().Bold(true)
	dim      = lipgloss.NewStyle().Faint(true)
)

// Shell is a line-oriented console. Commands run one at a time; the only state is the
// open connection and the dump directory.
type Shell struct {
	cfg     Config
	out     io.Writer
	logger  *slog.Logger
	conn    Conn
	dumpDir string
}

// New builds a shell writing to out. No connection is opened until Connect or Run.
func New(cfg Config, out io.Writer) *Shell {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = DialClient()
	}
	return &Shell{cfg: cfg, out: out, logger: logger, dumpDir: cfg.DumpDir}
}

// Connected reports whether a connection is open.
func (s *Shell) Connected() bool {
	return s.conn != nil
}

// DumpDir returns the current dump directory.
func (s *Shell) DumpDir() string {
	return s.dumpDir
}

// Connect opens a connection to the configured server, closing any previous one first.
func (s *Shell) Connect(ctx context.Context) error {
	s.Close()

	ctx, cancel := withTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, err := s.cfg.Dial(ctx, s.cfg.ServerAddress)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Close releases the connection if one is open.
func (s *Shell) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("closing connection", slog.Any("error", err))
	}
	s.conn = nil
}

// Run attempts an initial connection and then executes commands read from in until quit
// or end of input.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	defer s.Close()

	s.reconnect(ctx)
	scanner := bufio.NewScanner(in)
	for {
		if s.cfg.Prompt != "" {
			fmt.Fprint(s.out, s.cfg.Prompt)
		}
		if !scanner.Scan() {
			if s.cfg.Prompt != "" {
				fmt.Fprintln(s.out)
			}
			return scanner.Err()
		}
		if quit := s.Execute(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		s.help()
	case "set_dump_dir":
		if len(args) != 1 {
			s.usage("set_dump_dir <path>")
			return false
		}
		s.setDumpDir(args[0])
	case "list_dumps":
		s.listDumps()
	case "show":
		if len(args) != 1 {
			s.usage("show <name>")
			return false
		}
		s.show(args[0])
	case "replay":
		if len(args) != 1 {
			s.usage("replay <name>")
			return false
		}
		s.replay(ctx, args[0])
	case "status":
		s.status(ctx)
	case "reconnect":
		s.reconnect(ctx)
	default:
		s.failf("unknown command %q; type help for a list", cmd)
	}
	return false
}

func (s *Shell) help() {
	fmt.Fprintln(s.out, heading.Render("commands"))
	for _, line := range [][2]string{
		{"set_dump_dir <path>", "use another dump directory"},
		{"list_dumps", "list captured records"},
		{"show <name>", "print a captured record"},
		{"replay <name>", "resend a captured record to the server"},
		{"status", "show connection and server health"},
		{"reconnect", "reopen the server connection"},
		{"quit", "leave the shell"},
	} {
		fmt.Fprintf(s.out, "  %-22s %s\n", line[0], dim.Render(line[1]))
	}
}

func (s *Shell) setDumpDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		s.failf("directory does not exist: %s", path)
		return
	}
	s.dumpDir = path
	s.okf("dump directory set to %s", s.dumpDir)
}

func (s *Shell) listDumps() {
	dumps, err := replay.ListDumps(s.dumpDir)
	if err != nil {
		s.failf("%v", err)
		return
	}
	if len(dumps) == 0 {
		fmt.Fprintf(s.out, "no dumps in %s\n", s.dumpDir)
		return
	}
	fmt.Fprintln(s.out, heading.Render(fmt.Sprintf("%d dumps in %s", len(dumps), s.dumpDir)))
	for _, d := range dumps {
		fmt.Fprintf(s.out, "  %-40s %10s  %s\n", d.Name, humanize.Bytes(uint64(d.Size)), dim.Render(humanize.Time(d.ModTime)))
	}
}

func (s *Shell) load(name string) (models.CapturedRecord, bool) {
	path, err := replay.Resolve(name, s.dumpDir)
	if err != nil {
		s.failf("%v", err)
		return models.CapturedRecord{}, false
	}
	rec, err := replay.Load(path)
	if err != nil {
		s.failf("%v", err)
		return models.CapturedRecord{}, false
	}
	return rec, true
}

func (s *Shell) show(name string) {
	rec, ok := s.load(name)
	if !ok {
		return
	}
	fmt.Fprintln(s.out, heading.Render(rec.CorrelationID))
	fmt.Fprintf(s.out, "  model:    %s\n", rec.ModelName)
	fmt.Fprintf(s.out, "  status:   %s\n", rec.StatusMessage)
	if !rec.CapturedAt.IsZero() {
		fmt.Fprintf(s.out, "  captured: %s\n", rec.CapturedAt.Format(time.RFC3339))
	}
	for _, inputName := range rec.InputNames() {
		t := rec.Inputs[inputName]
		fmt.Fprintf(s.out, "  input %-20s %-8s %v %s\n", inputName, api.ToWireType(t.ElementType), t.Shape, humanize.Bytes(uint64(len(t.Data))))
	}
}

func (s *Shell) replay(ctx context.Context, name string) {
	if s.conn == nil {
		s.failf("not connected; use reconnect")
		return
	}
	rec, ok := s.load(name)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	sig, err := s.conn.ModelSignature(ctx, rec.ModelName)
	if err != nil {
		s.failf("%v", err)
		return
	}
	outcome, err := replay.Send(ctx, rec, sig, s.conn)
	if err != nil {
		var inferErr *replay.InferError
		if errors.As(err, &inferErr) {
			s.failf("replay of %s failed (request id %s): %v", name, inferErr.RequestID, inferErr.Err)
			return
		}
		s.failf("replay of %s: %v", name, err)
		return
	}

	s.okf("replayed %s as request %s", name, outcome.RequestID)
	for _, out := range outcome.Outputs {
		if out.Err != nil {
			fmt.Fprintf(s.out, "  output %-20s %s %v\n", out.Name, failMark, out.Err)
			continue
		}
		fmt.Fprintf(s.out, "  output %-20s %-8s %v\n", out.Name, api.ToWireType(out.ElementType), out.Shape)
	}
}

func (s *Shell) status(ctx context.Context) {
	fmt.Fprintf(s.out, "  dump dir: %s\n", s.dumpDir)
	if s.conn == nil {
		s.failf("not connected to %s", s.cfg.ServerAddress)
		return
	}

	ctx, cancel := withTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	live, err := s.conn.IsLive(ctx)
	if err != nil {
		s.failf("%s: %v", s.conn.Address(), err)
		return
	}
	ready, err := s.conn.IsReady(ctx)
	if err != nil {
		s.failf("%s: %v", s.conn.Address(), err)
		return
	}
	if live && ready {
		s.okf("%s live and ready", s.conn.Address())
		return
	}
	s.failf("%s live=%t ready=%t", s.conn.Address(), live, ready)
}

func (s *Shell) reconnect(ctx context.Context) {
	if err := s.Connect(ctx); err != nil {
		s.failf("%v", err)
		return
	}
	s.okf("connected to %s", s.cfg.ServerAddress)
}

func (s *Shell) usage(text string) {
	fmt.Fprintf(s.out, "usage: %s\n", text)
}

func (s *Shell) okf(format string, args ...any) {
	fmt.Fprintf(s.out, "%s %s\n", okMark, fmt.Sprintf(format, args...))
}

func (s *Shell) failf(format string, args ...any) {
	fmt.Fprintf(s.out, "%s %s\n", failMark, fmt.Sprintf(format, args...))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
