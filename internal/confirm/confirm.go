package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Confirmer asks the user to approve a destructive action
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Func adapts a function to Confirmer
type Func func(ctx context.Context, question string) (bool, error)

func (f Func) Confirm(ctx context.Context, question string) (bool, error) { return f(ctx, question) }

// Always answers every question the same way
func Always(answer bool) Confirmer {
	return Func(func(context.Context, string) (bool, error) { return answer, nil })
}

// Prompt asks on a terminal and reads a y/n answer
type Prompt struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPrompt creates a terminal confirmer
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// Reader exposes the buffered input so a REPL can share it with the prompt
func (p *Prompt) Reader() *bufio.Reader { return p.in }

func (p *Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s [s/N] ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "s", "sim", "y", "yes":
		return true, nil
	}
	return false, nil
}
