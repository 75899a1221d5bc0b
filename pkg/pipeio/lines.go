package pipeio

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/muesli/cancelreader"
)

// ReadLines calls fn with every line read from s until input ends or ctx
// is done. prompt is written before each line when stdin is a terminal.
// Errors returned by fn are handed to onErr and do not stop reading.
func ReadLines(ctx context.Context, s *Stdio, prompt string, fn func(line string) error, onErr func(error)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	interactive := s.Interactive()
	scanner := bufio.NewScanner(s)

	for {
		if interactive && prompt != "" {
			if _, err := fmt.Fprint(s, prompt); err != nil {
				return fmt.Errorf("writing prompt: %w", err)
			}
		}

		if !scanner.Scan() {
			break
		}
		if err := fn(scanner.Text()); err != nil && onErr != nil {
			onErr(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, cancelreader.ErrCanceled) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("reading input: %w", err)
}
