package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/finchly/deploylock/internal/model"
)

// Prompter collects one line of operator input.
type Prompter interface {
	Prompt(label string) (string, error)
}

// TerminalPrompter reads operator input line by line from a terminal.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter creates a prompter over the given streams.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Prompt prints the label and reads one trimmed line.
func (p *TerminalPrompter) Prompt(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// CollectLockRequest gathers the message and expiry for an explicit
// lock from the operator. An empty expiry means the lock never
// expires; an input that does not parse re-prompts rather than
// proceeding with a bad value. The returned request is marked custom.
func CollectLockRequest(p Prompter, out io.Writer, now time.Time) (CreateRequest, error) {
	message, err := p.Prompt("Lock message")
	if err != nil {
		return CreateRequest{}, err
	}

	for {
		input, err := p.Prompt(`Lock expiry (blank for never, "+30m", or a timestamp)`)
		if err != nil {
			return CreateRequest{}, err
		}
		expiry, err := model.ParseExpiry(input, now)
		if err != nil {
			fmt.Fprintf(out, "Sorry, %v\n", err)
			continue
		}
		return CreateRequest{
			Message: message,
			Expiry:  &expiry,
			Custom:  true,
		}, nil
	}
}
