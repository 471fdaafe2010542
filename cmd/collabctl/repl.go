package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// errExit signals caller-intent to leave the interactive loop.
var errExit = errors.New("exit")

const defaultSyncTimeout = 10 * time.Second

type commandKind string

const (
	cmdInsert    commandKind = "insert"
	cmdAppend    commandKind = "append"
	cmdDelete    commandKind = "delete"
	cmdShow      commandKind = "show"
	cmdStatus    commandKind = "status"
	cmdFlush     commandKind = "flush"
	cmdReconnect commandKind = "reconnect"
	cmdSync      commandKind = "sync"
	cmdHelp      commandKind = "help"
	cmdQuit      commandKind = "quit"
)

// command is one parsed REPL line.
type command struct {
	Kind    commandKind
	Pos     int
	N       int
	Text    string
	Timeout time.Duration
}

const helpText = `commands:
  insert <pos> <text>   insert text at rune position
  append <text>         insert text at the end
  delete <pos> <n>      delete n runes starting at pos
  show                  print the document
  status                print session state, version and backlog
  flush                 commit pending changes now
  reconnect             retry the connection now instead of waiting
  sync [timeout]        wait until every local change is acknowledged
  quit                  save and exit
`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("empty command")
	}
	name, rest, _ := strings.Cut(line, " ")
	args := strings.Fields(rest)
	switch strings.ToLower(name) {
	case "insert", "i":
		posArg, text, ok := strings.Cut(strings.TrimLeft(rest, " "), " ")
		if !ok || text == "" {
			return command{}, errors.New("usage: insert <pos> <text>")
		}
		pos, err := parsePosition(posArg)
		if err != nil {
			return command{}, err
		}
		return command{Kind: cmdInsert, Pos: pos, Text: text}, nil
	case "append", "a":
		text := strings.TrimLeft(rest, " ")
		if text == "" {
			return command{}, errors.New("usage: append <text>")
		}
		return command{Kind: cmdAppend, Text: text}, nil
	case "delete", "d":
		if len(args) != 2 {
			return command{}, errors.New("usage: delete <pos> <n>")
		}
		pos, err := parsePosition(args[0])
		if err != nil {
			return command{}, err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return command{}, fmt.Errorf("invalid length %q", args[1])
		}
		return command{Kind: cmdDelete, Pos: pos, N: n}, nil
	case "show", "cat":
		return command{Kind: cmdShow}, nil
	case "status", "st":
		return command{Kind: cmdStatus}, nil
	case "flush":
		return command{Kind: cmdFlush}, nil
	case "reconnect":
		return command{Kind: cmdReconnect}, nil
	case "sync":
		timeout := defaultSyncTimeout
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			if err != nil || d <= 0 {
				return command{}, fmt.Errorf("invalid timeout %q", args[0])
			}
			timeout = d
		}
		return command{Kind: cmdSync, Timeout: timeout}, nil
	case "help", "?":
		return command{Kind: cmdHelp}, nil
	case "quit", "exit", "q":
		return command{Kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func parsePosition(raw string) (int, error) {
	pos, err := strconv.Atoi(raw)
	if err != nil || pos < 0 {
		return 0, fmt.Errorf("invalid position %q", raw)
	}
	return pos, nil
}

// execute applies one command against the client.
func (c *client) execute(ctx context.Context, cmd command, out io.Writer) error {
	switch cmd.Kind {
	case cmdInsert:
		_, err := c.text.Insert(cmd.Pos, cmd.Text)
		return err
	case cmdAppend:
		_, err := c.text.Insert(c.text.Len(), cmd.Text)
		return err
	case cmdDelete:
		_, err := c.text.Delete(cmd.Pos, cmd.N)
		return err
	case cmdShow:
		fmt.Fprintln(out, c.text.String())
	case cmdStatus:
		fmt.Fprintf(out, "doc=%s session=%s state=%s version=%d outstanding=%d\n",
			c.session.DocumentID(), c.session.SessionID(), c.session.State(),
			c.session.Version(), c.session.Outstanding())
	case cmdFlush:
		c.session.Flush()
	case cmdReconnect:
		c.session.Reconnect()
	case cmdSync:
		syncCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
		if err := c.waitSynced(syncCtx); err != nil {
			return err
		}
		fmt.Fprintf(out, "synced version=%d\n", c.session.Version())
	case cmdHelp:
		fmt.Fprint(out, helpText)
	case cmdQuit:
		return errExit
	}
	return nil
}

// repl reads commands until quit, EOF or the session stops.
func (c *client) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := c.waitStarted(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			return nil
		case <-c.session.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if err := c.execute(ctx, cmd, out); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}
