// Package confirm provides the answer source for syncs the deletion guard
// flags as suspicious.
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
)

// Policy names accepted by FromPolicy.
const (
	PolicyPrompt = "prompt"
	PolicyDeny   = "deny"
	PolicyAllow  = "allow"
)

// Func asks whether a flagged sync of folder to target may run. Only an
// explicit affirmative returns true.
type Func func(ctx context.Context, folder, target, reason string) bool

// Deny refuses every flagged sync. Suitable for unattended runs.
func Deny(context.Context, string, string, string) bool { return false }

// Allow approves every flagged sync.
func Allow(context.Context, string, string, string) bool { return true }

// Prompter asks on a terminal. One question is outstanding at a time
// across all workers sharing it.
type Prompter struct {
	mu  sync.Mutex
	out io.Writer

	in    io.Reader
	once  sync.Once
	lines chan string
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// start launches a single reader so a cancelled question does not leave
// a second goroutine competing for input.
func (p *Prompter) start() {
	p.lines = make(chan string)

	go func() {
		defer close(p.lines)

		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
	}()
}

// Ask prints the question and waits for an answer. Closed input or a
// cancelled context count as no.
func (p *Prompter) Ask(ctx context.Context, folder, target, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.once.Do(p.start)

	fmt.Fprintf(p.out, "[%s -> %s] %s. Proceed with sync? [y/N]: ", folder, target, reason)

	select {
	case line, ok := <-p.lines:
		if !ok {
			fmt.Fprintln(p.out)
			return false
		}

		return affirmative(line)
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false
	}
}

func affirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// FromPolicy returns the Func for a CONFIRM_POLICY value. The prompt
// policy reads in and writes out.
func FromPolicy(policy string, in io.Reader, out io.Writer) (Func, error) {
	switch policy {
	case PolicyPrompt:
		return NewPrompter(in, out).Ask, nil
	case PolicyDeny:
		return Deny, nil
	case PolicyAllow:
		return Allow, nil
	default:
		return nil, fmt.Errorf("%w: unknown confirm policy %q", apperrors.ErrConfig, policy)
	}
}
