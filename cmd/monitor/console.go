package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// console routes stdin lines either to a pending permission prompt or to the
// command handler. Only one prompt can be pending at a time.
type console struct {
	out io.Writer

	mu      sync.Mutex
	pending chan string
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// readLines sends trimmed lines from r until EOF or ctx ends, then closes the channel.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// Prompt implements push.PromptFunc. It blocks until dispatch delivers the answer.
func (c *console) Prompt(ctx context.Context) (bool, error) {
	answer := make(chan string, 1)
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("prompt already pending")
	}
	c.pending = answer
	c.mu.Unlock()

	fmt.Fprint(c.out, "\r\033[KAllow humidity notifications? [y/N] ")
	select {
	case a := <-answer:
		a = strings.ToLower(a)
		return a == "y" || a == "yes", nil
	case <-ctx.Done():
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return false, ctx.Err()
	}
}

// dispatch hands line to a pending prompt and reports true, or reports false when
// the line is a command.
func (c *console) dispatch(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return false
	}
	c.pending <- line
	c.pending = nil
	return true
}

// waiting reports whether a prompt is pending. The screen is not redrawn while it is.
func (c *console) waiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

type command int

const (
	cmdNone command = iota
	cmdRefresh
	cmdQuit
)

func parseCommand(line string) command {
	switch strings.ToLower(line) {
	case "r", "refresh":
		return cmdRefresh
	case "q", "quit", "exit":
		return cmdQuit
	default:
		return cmdNone
	}
}
