// Package prompt asks the user for capability parameters and confirmations on the console.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"mcphub-go/internal/invoker"
)

// ErrNotInteractive is returned when input is needed but stdin is not a terminal
var ErrNotInteractive = errors.New("input required but stdin is not a terminal")

// Prompter collects input from the user
type Prompter interface {
	// Param asks for one capability parameter; an empty answer skips an optional one
	Param(p invoker.Param) (string, error)
	// Confirm asks a yes/no question, defaulting to no
	Confirm(message string) (bool, error)
}

// ConsolePrompter reads answers line by line
type ConsolePrompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewConsolePrompter prompts on stderr and reads stdin
func NewConsolePrompter() *ConsolePrompter {
	return &ConsolePrompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// NewPrompter reads from in and writes questions to out
func NewPrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewReader(in), out: out, interactive: true}
}

// Interactive reports whether questions can be answered
func (p *ConsolePrompter) Interactive() bool {
	return p.interactive
}

func (p *ConsolePrompter) readLine(question string) (string, error) {
	if !p.interactive {
		return "", ErrNotInteractive
	}
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *ConsolePrompter) Param(param invoker.Param) (string, error) {
	var b strings.Builder
	b.WriteString(param.Name)
	switch {
	case param.Type == invoker.TypeEnum:
		fmt.Fprintf(&b, " (%s)", strings.Join(param.Enum, "|"))
	case param.Type != invoker.TypeString:
		fmt.Fprintf(&b, " (%s)", param.Type)
	}
	if !param.Required {
		b.WriteString(" [optional]")
	}
	if param.Description != "" {
		fmt.Fprintf(&b, " - %s", param.Description)
	}
	b.WriteString(": ")
	return p.readLine(b.String())
}

func (p *ConsolePrompter) Confirm(message string) (bool, error) {
	answer, err := p.readLine(message + " [y/N]: ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// Fill asks for every parameter missing from values, required ones first.
// Supplied values are kept. Optional parameters are only asked for when
// askOptional is set.
func Fill(p Prompter, params []invoker.Param, values map[string]string, askOptional bool) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for k, v := range values {
		out[k] = v
	}
	for _, param := range params {
		if _, ok := out[param.Name]; ok {
			continue
		}
		if !param.Required && !askOptional {
			continue
		}
		answer, err := p.Param(param)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", param.Name, err)
		}
		if answer != "" {
			out[param.Name] = answer
		}
	}
	return out, nil
}

// MockPrompter answers from fixed tables, for tests
type MockPrompter struct {
	Answers  map[string]string
	Confirms map[string]bool
	Asked    []string
}

// NewMockPrompter creates an empty MockPrompter
func NewMockPrompter() *MockPrompter {
	return &MockPrompter{Answers: map[string]string{}, Confirms: map[string]bool{}}
}

func (m *MockPrompter) Param(p invoker.Param) (string, error) {
	m.Asked = append(m.Asked, p.Name)
	return m.Answers[p.Name], nil
}

func (m *MockPrompter) Confirm(message string) (bool, error) {
	m.Asked = append(m.Asked, message)
	return m.Confirms[message], nil
}
