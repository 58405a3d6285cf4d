package genspark

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// TerminalPrompter asks the operator how to resolve an ambiguous path. It
// serializes prompts so concurrent callers never interleave questions.
type TerminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter reads answers from in and writes questions to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

var promptChoices = map[string]Decision{
	"d": DecisionPull,
	"u": DecisionPush,
	"r": DecisionDeleteRemote,
	"l": DecisionDeleteLocal,
	"s": DecisionSkip,
	"":  DecisionSkip,
}

// Prompt implements Prompter. End of input or a cancelled context skip
// the path.
func (t *TerminalPrompter) Prompt(ctx context.Context, p Prompt) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ctx.Err() != nil {
		return DecisionSkip
	}

	fmt.Fprintf(t.out, "\n%s (%s)\n", p.Path, p.Kind)
	fmt.Fprintf(t.out, "  local:  %s\n", describeSide(p.LocalExists, p.LocalSize, p.LocalMTime))
	fmt.Fprintf(t.out, "  remote: %s\n", describeSide(p.RemoteExists, p.RemoteSize, p.RemoteMTime))

	for {
		fmt.Fprint(t.out, "[d]ownload, [u]pload, delete [r]emote, delete [l]ocal, [s]kip: ")

		line, err := t.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if d, ok := promptChoices[answer]; ok {
			return d
		}
		if err != nil {
			return DecisionSkip
		}

		fmt.Fprintf(t.out, "unrecognized answer %q\n", answer)
	}
}

func describeSide(exists bool, size int64, mtime float64) string {
	if !exists {
		return "missing"
	}
	return fmt.Sprintf("%s, modified %s", humanize.Bytes(uint64(size)), humanize.Time(fromUnixFloat(mtime)))
}
