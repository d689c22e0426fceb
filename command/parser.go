package command

import (
	"strings"
)

// Command is a parsed line of input.
type Command interface {
	commandNode()
}

// SetStatement represents `set <key> <value>`.
type SetStatement struct {
	Key   string
	Value string
}

// GetStatement represents `get <key>`.
type GetStatement struct {
	Key string
}

// DeleteStatement represents `del <key>`.
type DeleteStatement struct {
	Key string
}

// StatsStatement represents `stats`.
type StatsStatement struct{}

// FlushStatement represents `flush` and `flush wait`.
type FlushStatement struct {
	Wait bool
}

// HelpStatement represents `help`.
type HelpStatement struct{}

// ExitStatement represents `exit` and `quit`.
type ExitStatement struct{}

func (*SetStatement) commandNode()    {}
func (*GetStatement) commandNode()    {}
func (*DeleteStatement) commandNode() {}
func (*StatsStatement) commandNode()  {}
func (*FlushStatement) commandNode()  {}
func (*HelpStatement) commandNode()   {}
func (*ExitStatement) commandNode()   {}

const (
	msgSyntax      = "Syntax error"
	msgUnsupported = "unsupported command"
)

// SyntaxError reports a line that could not be turned into a Command.
// It is shown to the user and never ends a session.
type SyntaxError struct {
	Line        string
	Reason      string
	Unsupported bool
}

func (e *SyntaxError) Error() string {
	if e.Unsupported {
		return "ERR " + msgUnsupported
	}
	return "ERR " + msgSyntax
}

// Detail describes what was wrong with the line, for logs.
func (e *SyntaxError) Detail() string {
	return e.Reason
}

func syntaxErr(line, reason string) *SyntaxError {
	return &SyntaxError{Line: line, Reason: reason}
}

// Parse turns one line of input into a Command. Verbs are case-insensitive.
// A blank line yields a nil Command and a nil error.
func Parse(line string) (Command, error) {
	tokens, err := Tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	verb := strings.ToLower(tokens[0])
	args := tokens[1:]
	switch verb {
	case "set":
		if len(args) != 2 {
			return nil, syntaxErr(line, "set expects a key and a value")
		}
		return &SetStatement{Key: args[0], Value: args[1]}, nil
	case "get":
		if len(args) != 1 {
			return nil, syntaxErr(line, "get expects a key")
		}
		return &GetStatement{Key: args[0]}, nil
	case "del":
		if len(args) != 1 {
			return nil, syntaxErr(line, "del expects a key")
		}
		return &DeleteStatement{Key: args[0]}, nil
	case "stats":
		if len(args) != 0 {
			return nil, syntaxErr(line, "stats takes no arguments")
		}
		return &StatsStatement{}, nil
	case "flush":
		switch {
		case len(args) == 0:
			return &FlushStatement{}, nil
		case len(args) == 1 && strings.EqualFold(args[0], "wait"):
			return &FlushStatement{Wait: true}, nil
		}
		return nil, syntaxErr(line, "usage: flush [wait]")
	case "help":
		return &HelpStatement{}, nil
	case "exit", "quit":
		return &ExitStatement{}, nil
	}
	return nil, &SyntaxError{Line: line, Reason: "unknown verb " + tokens[0], Unsupported: true}
}

// Tokenize splits line on whitespace. A double-quoted run may contain
// whitespace and is taken literally with the quotes stripped; inside quotes
// \" and \\ stand for a quote and a backslash. `""` is an empty token.
func Tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quoted  bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quoted:
			switch {
			case c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\'):
				i++
				cur.WriteByte(line[i])
			case c == '"':
				quoted = false
			default:
				cur.WriteByte(c)
			}
		case c == '"':
			quoted = true
			inToken = true
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if quoted {
		return nil, syntaxErr(line, "unterminated quote")
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
