package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand is returned by Dispatch for unknown input.
var ErrUnknownCommand = errors.New("unknown command")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, s *Shell) error
}

// commands is built per call: as a package variable the help entry would
// form an initialization cycle.
func commands() []command {
	return []command{
		{"http", "query the engine's HTTP API", func(ctx context.Context, s *Shell) error { return s.CheckHTTP(ctx) }},
		{"start", "start socket data updates", queued((*Shell).StartSocket)},
		{"stop", "stop socket data updates", queued((*Shell).StopSocket)},
		{"clear", "clear the debug log", func(_ context.Context, s *Shell) error { s.ClearLog(); return nil }},
		{"echo", "ask the engine for an echo", func(_ context.Context, s *Shell) error { return s.SendEcho() }},
		{"toggle", "toggle the engine's echo listener", func(_ context.Context, s *Shell) error { return s.ToggleEcho() }},
		{"write", "round trip a file through the engine", func(ctx context.Context, s *Shell) error { return s.DoFileWrite(ctx) }},
		{"add", "add another message listener", func(_ context.Context, s *Shell) error { s.AddAnotherEchoListener(); return nil }},
		{"remove", "remove another message listener", func(_ context.Context, s *Shell) error { s.RemoveAnotherEchoListener(); return nil }},
		{"deps", "have the engine load its dependencies", func(_ context.Context, s *Shell) error { return s.LoadAllDependencies() }},
		{"pause", "simulate the app going to the background", func(ctx context.Context, s *Shell) error { s.OnPause(ctx); return nil }},
		{"resume", "simulate the app coming back", func(ctx context.Context, s *Shell) error { return s.OnResume(ctx) }},
		{"log", "print the debug log", func(_ context.Context, s *Shell) error { return s.printLog() }},
		{"help", "list commands", func(_ context.Context, s *Shell) error { return s.printHelp() }},
	}
}

// queued turns a socket action into a command that returns at once. The
// action may wait for the foreground, and the resume that ends the wait
// has to be read while it does.
func queued(fn func(s *Shell, ctx context.Context) error) func(context.Context, *Shell) error {
	return func(_ context.Context, s *Shell) error {
		s.enqueue(func(ctx context.Context) error { return fn(s, ctx) })
		return nil
	}
}

// Dispatch runs the action named by line. Empty input is ignored.
func (s *Shell) Dispatch(ctx context.Context, line string) error {
	name := strings.ToLower(strings.TrimSpace(line))
	if name == "" {
		return nil
	}

	for _, c := range commands() {
		if c.name == name {
			return c.run(ctx, s)
		}
	}
	return fmt.Errorf("%w %q, try \"help\"", ErrUnknownCommand, name)
}

func (s *Shell) printLog() error {
	for _, m := range s.Messages() {
		if _, err := fmt.Fprintln(s.out, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) printHelp() error {
	for _, c := range commands() {
		if _, err := fmt.Fprintf(s.out, "  %-8s %s\n", c.name, c.usage); err != nil {
			return err
		}
	}
	return nil
}

// Commands returns the names Dispatch understands.
func Commands() []string {
	cmds := commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.name
	}
	return names
}
