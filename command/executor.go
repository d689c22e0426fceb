package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/INLOpen/chaindb/engine"
)

const (
	// ResponseOK is printed after a successful set or del.
	ResponseOK = "OK"
	// DefaultPrompt is written before each line in interactive sessions.
	DefaultPrompt = ">> "
)

const helpText = `set <key> <value>   store value under key
get <key>           print the value of key, or nothing if absent
del <key>           delete key
stats               show memtable, flush and segment counters
flush [wait]        freeze the memtable; with wait, block until flushed
help                show this text
exit | quit         leave the session
Keys and values may be double-quoted to embed spaces.`

// Executor runs parsed commands against the storage engine.
type Executor struct {
	engine engine.StorageEngineInterface
	logger *slog.Logger
}

// NewExecutor creates a new command executor.
func NewExecutor(eng engine.StorageEngineInterface, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{engine: eng, logger: logger.With("component", "CommandExecutor")}
}

// Execute runs cmd and returns the text to show the user. show is false when
// nothing should be printed, as for an absent key; a present key with an
// empty value still prints an empty line. Errors come from the engine and are
// not syntax errors.
func (e *Executor) Execute(ctx context.Context, cmd Command) (out string, show bool, err error) {
	switch c := cmd.(type) {
	case *SetStatement:
		if err := e.engine.Set(ctx, c.Key, c.Value); err != nil {
			return "", false, fmt.Errorf("set %q: %w", c.Key, err)
		}
		return ResponseOK, true, nil
	case *GetStatement:
		value, found, err := e.engine.Get(ctx, c.Key)
		if err != nil {
			return "", false, fmt.Errorf("get %q: %w", c.Key, err)
		}
		return value, found, nil
	case *DeleteStatement:
		if err := e.engine.Delete(ctx, c.Key); err != nil {
			return "", false, fmt.Errorf("del %q: %w", c.Key, err)
		}
		return ResponseOK, true, nil
	case *StatsStatement:
		return formatStats(e.engine.Stats()), true, nil
	case *FlushStatement:
		if err := e.engine.ForceFlush(ctx, c.Wait); err != nil {
			return "", false, fmt.Errorf("flush: %w", err)
		}
		return ResponseOK, true, nil
	case *HelpStatement:
		return helpText, true, nil
	case *ExitStatement:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unknown or unsupported command type: %T", c)
	}
}

func formatStats(s engine.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "memtable_records:%d\n", s.MemtableRecords)
	fmt.Fprintf(&sb, "memtable_bytes:%d\n", s.MemtableBytes)
	fmt.Fprintf(&sb, "pending_flushes:%d\n", s.PendingFlushes)
	fmt.Fprintf(&sb, "segments:%d\n", s.Segments)
	fmt.Fprintf(&sb, "segment_bytes:%d\n", s.SegmentBytes)
	fmt.Fprintf(&sb, "wal_bytes:%d", s.WALBytes)
	if s.FlushError != nil {
		fmt.Fprintf(&sb, "\nflush_error:%s", s.FlushError)
	}
	return sb.String()
}

// Session reads commands line by line and writes their results.
type Session struct {
	executor *Executor
	in       io.Reader
	out      io.Writer
	prompt   string
}

// NewSession creates a session. An empty prompt disables prompting, which
// suits piped input.
func NewSession(executor *Executor, in io.Reader, out io.Writer, prompt string) *Session {
	return &Session{executor: executor, in: in, out: out, prompt: prompt}
}

// Run processes input until EOF, an exit command, ctx cancellation or an
// engine error. Syntax errors are printed as `(error) ...` and the session
// continues; any other error ends it and is returned.
func (s *Session) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.prompt != "" {
			fmt.Fprint(s.out, s.prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()

		cmd, err := Parse(line)
		if err != nil {
			var syntaxErr *SyntaxError
			if errors.As(err, &syntaxErr) {
				s.executor.logger.Debug("Rejected command.", "reason", syntaxErr.Detail())
				fmt.Fprintf(s.out, "(error) %s\n", syntaxErr.Error())
				continue
			}
			return err
		}
		if cmd == nil {
			continue
		}
		if _, ok := cmd.(*ExitStatement); ok {
			return nil
		}

		result, show, err := s.executor.Execute(ctx, cmd)
		if err != nil {
			return err
		}
		if show {
			fmt.Fprintln(s.out, result)
		}
	}
}
