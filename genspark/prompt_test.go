package genspark

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalPrompter_Choices(t *testing.T) {
	tests := []struct {
		input string
		want  Decision
	}{
		{"d\n", DecisionPull},
		{"U\n", DecisionPush},
		{"r\n", DecisionDeleteRemote},
		{" l \n", DecisionDeleteLocal},
		{"s\n", DecisionSkip},
		{"\n", DecisionSkip},
		{"", DecisionSkip},
		{"what\nd\n", DecisionPull},
		{"what", DecisionSkip},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := NewTerminalPrompter(strings.NewReader(tt.input), &out)
			got := p.Prompt(context.Background(), Prompt{Path: "a.txt", Kind: KindConflict, LocalExists: true, LocalSize: 2048})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTerminalPrompter_DescribesBothSides(t *testing.T) {
	var out bytes.Buffer
	p := NewTerminalPrompter(strings.NewReader("s\n"), &out)
	p.Prompt(context.Background(), Prompt{Path: "notes/a.txt", Kind: KindNewLocal, LocalExists: true, LocalSize: 2048, LocalMTime: 1_650_000_000})

	assert.Contains(t, out.String(), "notes/a.txt (new-local)")
	assert.Contains(t, out.String(), "local:  2.0 kB")
	assert.Contains(t, out.String(), "remote: missing")
}

func TestTerminalPrompter_CancelledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	p := NewTerminalPrompter(strings.NewReader("d\n"), &out)
	assert.Equal(t, DecisionSkip, p.Prompt(ctx, Prompt{Path: "a.txt"}))
	assert.Empty(t, out.String())
}
