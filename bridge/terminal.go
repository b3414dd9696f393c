package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/cadlink/transport"
)

// Terminal is a line-oriented palette for running without a web view.
// Plain lines are prompts; /tools, /cancel and /quit are commands.
type Terminal struct {
	in  io.Reader
	out io.Writer
	// Verbose also prints tool call arguments and outputs.
	Verbose bool

	mu sync.Mutex
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// Run reads lines and posts them to b until EOF, /quit or ctx ends.
func (t *Terminal) Run(ctx context.Context, b *Bridge) error {
	detach := b.Attach(t)
	defer detach()

	scanner := bufio.NewScanner(t.in)
	for ctx.Err() == nil {
		t.print("You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/tools":
			b.Post(Action{Action: ActionGetTools})
		case "/cancel":
			b.Post(Action{Action: ActionCancel})
		default:
			data, _ := json.Marshal(map[string]string{"promptText": line})
			b.Post(Action{Action: ActionSubmitPrompt, Data: data})
		}
	}
	return scanner.Err()
}

func (t *Terminal) Send(o Outbound) error {
	switch o.Event {
	case "messageDelta":
		if ev, ok := o.Data.(transport.Event); ok {
			t.print(ev.Content)
		}
	case "runCompleted", "runCancelled", "runFailed":
		t.print("\n[" + o.Event + "]\n")
	case OutToolCallResponse:
		m, _ := o.Data.(map[string]any)
		if t.Verbose {
			t.print(fmt.Sprintf("tool `%v` %v -> %v\n", m["function_name"], m["function_args"], m["output"]))
		} else {
			t.print(fmt.Sprintf("tool `%v`\n", m["function_name"]))
		}
	case OutTools:
		if data, err := json.MarshalIndent(o.Data, "", "  "); err == nil {
			t.print(string(data) + "\n")
		}
	case OutConnectionError, OutError:
		t.print(fmt.Sprintf("Error: %v\n", o.Data))
	}
	return nil
}

func (t *Terminal) print(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, s)
}
