// Package shell is a line-oriented interactive REPL fronting
// internal/supervisor.Handler, independent of the supervised process set's
// own lifetime: exiting the shell never stops anything it supervises.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kael-dev/sentryd/internal/supervisor"
)

// Shell reads one command per line from in and writes responses to out.
type Shell struct {
	h       *supervisor.Handler
	logFile string
	in      *bufio.Scanner
	out     io.Writer
}

func New(h *supervisor.Handler, logFile string, in io.Reader, out io.Writer) *Shell {
	return &Shell{h: h, logFile: logFile, in: bufio.NewScanner(in), out: out}
}

// Run reads commands until exit, quit, or EOF. ctx is handed to reload;
// Run itself does not watch it for cancellation.
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprint(s.out, "sentryd> ")
	for s.in.Scan() {
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			fmt.Fprint(s.out, "sentryd> ")
			continue
		}
		if s.dispatch(ctx, line) {
			return nil
		}
		fmt.Fprint(s.out, "sentryd> ")
	}
	return s.in.Err()
}

// dispatch handles one command line and reports whether the shell should exit.
func (s *Shell) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "status":
		s.cmdStatus(args)
	case "start":
		s.cmdStart(args)
	case "stop":
		s.cmdStop(args)
	case "reload":
		s.cmdReload(ctx)
	case "tail":
		s.cmdTail()
	case "help":
		s.cmdHelp()
	case "exit", "quit":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", line)
	}
	return false
}

func (s *Shell) cmdStatus(args []string) {
	if len(args) == 0 {
		for _, st := range s.h.Status() {
			fmt.Fprintf(s.out, "%-20s desired=%-3d running=%-3d starting=%-3d stopping=%-3d exited=%-3d restarts=%d\n",
				st.Name, st.Desired, st.Running, st.Starting, st.Stopping, st.Exited, st.Restarts)
		}
		return
	}
	st, err := s.h.StatusOne(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%-20s desired=%-3d running=%-3d starting=%-3d stopping=%-3d exited=%-3d restarts=%d\n",
		st.Name, st.Desired, st.Running, st.Starting, st.Stopping, st.Exited, st.Restarts)
}

func (s *Shell) cmdStart(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: start <name>")
		return
	}
	if err := s.h.Start(args[0]); err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
		return
	}
	fmt.Fprintf(s.out, "started %s\n", args[0])
}

func (s *Shell) cmdStop(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: stop <name>")
		return
	}
	if err := s.h.Stop(args[0], 10*time.Second); err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
		return
	}
	fmt.Fprintf(s.out, "stopped %s\n", args[0])
}

func (s *Shell) cmdReload(ctx context.Context) {
	if err := s.h.Reload(ctx); err != nil {
		fmt.Fprintf(s.out, "reload failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "reloaded")
}

func (s *Shell) cmdTail() {
	if s.logFile == "" {
		fmt.Fprintln(s.out, "no log file configured")
		return
	}
	lines, err := tailLines(s.logFile, 10)
	if err != nil {
		fmt.Fprintf(s.out, "tail failed: %v\n", err)
		return
	}
	for _, l := range lines {
		fmt.Fprintln(s.out, l)
	}
}

func (s *Shell) cmdHelp() {
	fmt.Fprintln(s.out, "commands: status [name] | start <name> | stop <name> | reload | tail | help | exit")
}

// tailLines returns up to the last n lines of path, reading the whole file
// since daemon log files are rotated well below a size worth streaming.
func tailLines(path string, n int) ([]string, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
