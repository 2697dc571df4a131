// Command streamdemo is a small end-to-end harness exercising the
// workspace stream engine against an in-memory echo model, grounded on
// the teacher's cmd/agently CLI (a go-flags Options struct with a single
// Execute entry point, cmd/agently/chat.go/cli.go).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/cmux/streamengine/aiservice"
	"github.com/cmux/streamengine/demo"
	"github.com/cmux/streamengine/events"
	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/manager"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/partialstore"
)

// Options is the CLI's flag set, interpreted by go-flags.
type Options struct {
	Workspace string `short:"w" long:"workspace" description:"workspace id" default:"demo"`
	Message   string `short:"m" long:"message" description:"user message to send" required:"yes"`
	Model     string `long:"model" description:"provider:model-id string" default:"anthropic:claude-demo"`
	Abort     bool   `long:"abort" description:"request a stop as soon as the stream has started; a reply that finishes first is not aborted"`
}

func main() {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *Options) error {
	ctx := context.Background()

	history := historystore.NewMemStore()
	partial := partialstore.NewMemStore()
	mgr := manager.New()
	svc := aiservice.New(aiservice.Config{
		HistoryStore: history,
		PartialStore: partial,
		Manager:      mgr,
		Providers:    demo.NewEchoResolver(),
	})

	var done = make(chan struct{})
	unsub := svc.Dispatcher().Subscribe(opts.Workspace, func(ev events.Event) {
		printEvent(ev)
		switch ev.Kind {
		case events.KindStreamEnd, events.KindStreamAbort, events.KindError:
			close(done)
		}
	})
	defer unsub()

	userMsg := message.NewUserMessage(opts.Message)
	if _, err := history.Append(ctx, opts.Workspace, &userMsg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	req := aiservice.Request{
		WorkspaceID: opts.Workspace,
		RawMessages: []message.Message{userMsg},
		ModelString: opts.Model,
	}
	if opts.Abort {
		req.ThinkingLevel = "" // abort path doesn't need a thinking budget
	}

	if err := svc.StreamMessage(ctx, req); err != nil {
		return fmt.Errorf("stream message: %w", err)
	}

	if opts.Abort {
		svc.StopStream(opts.Workspace)
	}

	<-done

	msgs, err := history.ReadAll(ctx, opts.Workspace)
	if err != nil {
		return err
	}
	fmt.Println(strings.Repeat("-", 40))
	for _, m := range msgs {
		fmt.Printf("[%s seq=%d partial=%v] %s\n", m.Role, m.Metadata.HistorySequence, m.Metadata.Partial, renderText(m))
	}
	return nil
}

func renderText(m message.Message) string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		switch p.Kind {
		case message.PartText:
			sb.WriteString(p.Text)
		case message.PartReasoning:
			sb.WriteString("(reasoning: " + p.Text + ")")
		case message.PartDynamicTool:
			sb.WriteString(fmt.Sprintf("[tool %s:%s]", p.ToolName, p.State))
		}
	}
	return sb.String()
}

func printEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindStreamDelta:
		fmt.Print(ev.Delta)
	case events.KindStreamEnd:
		fmt.Println()
		fmt.Printf("[stream-end] %s\n", ev.MessageID)
	case events.KindStreamAbort:
		fmt.Printf("\n[stream-abort] %s\n", ev.MessageID)
	case events.KindError:
		fmt.Printf("\n[error:%s] %s\n", ev.ErrorType, ev.Error)
	}
}
