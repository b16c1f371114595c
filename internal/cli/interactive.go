package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
)

const prompt = "inspector> "

var errExit = errors.New("exit")

// runInteractive runs setup, then reads commands from a readline prompt
// while events are printed above it.
func runInteractive(ctx context.Context, client *frontend.Client, f EventFormatter, setup []string) error {
	var methods inspector.MethodsResult
	if err := client.Call(ctx, "Inspector.getMethods", nil, &methods); err != nil {
		return fmt.Errorf("failed to list methods: %w", err)
	}

	items := make([]readline.PrefixCompleterInterface, 0, len(methods.Methods))
	for _, m := range methods.Methods {
		items = append(items, readline.PcItem(m))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile(),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       ".exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer func(rl *readline.Instance) {
		_ = rl.Close()
	}(rl)

	out := rl.Stdout()
	evCtx, stopEvents := context.WithCancel(ctx)
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- streamEvents(evCtx, client, f, out)
	}()
	defer func() {
		stopEvents()
		<-streamDone
	}()

	fmt.Fprintln(out, "Inspector shell. Type '.help' for help, '.exit' to quit.")
	for _, method := range setup {
		if err := execCommand(ctx, client, f, out, method); err != nil {
			return err
		}
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if err := handleMetaCommand(line, methods.Methods, out); err != nil {
				if errors.Is(err, errExit) {
					return nil
				}
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			continue
		}

		if err := execCommand(ctx, client, f, out, line); err != nil {
			if errors.Is(err, frontend.ErrClosed) || ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func execCommand(ctx context.Context, client *frontend.Client, f EventFormatter, out io.Writer, line string) error {
	method, params, err := parseCommandLine(line)
	if err != nil {
		return err
	}

	var result json.RawMessage
	if err := client.CallRaw(ctx, method, params, &result); err != nil {
		return err
	}
	text, err := f.FormatResult(method, result)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

// parseCommandLine splits `Domain.method {json}` into its parts.
func parseCommandLine(line string) (string, json.RawMessage, error) {
	method, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	domain, name, ok := strings.Cut(method, ".")
	if !ok || domain == "" || name == "" {
		return "", nil, fmt.Errorf("expected Domain.method, got %q", method)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return method, nil, nil
	}
	if !strings.HasPrefix(rest, "{") || !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("params must be a JSON object")
	}
	return method, json.RawMessage(rest), nil
}

func handleMetaCommand(command string, methods []string, out io.Writer) error {
	switch strings.Fields(command)[0] {
	case ".exit", ".quit":
		return errExit

	case ".help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, `  Domain.method {"param": "value"}  - Send a command`)
		fmt.Fprintln(out, "  .methods                          - List available commands")
		fmt.Fprintln(out, "  .exit                             - Detach and quit")
		return nil

	case ".methods":
		for _, m := range methods {
			fmt.Fprintf(out, "  %s\n", m)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q (try .help)", command)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".coral", "inspector_history")
}
