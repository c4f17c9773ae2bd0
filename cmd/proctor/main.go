package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess  = 0 // Session completed (or was already complete)
	ExitTerminal = 1 // Token rejected: invalid, expired, or already consumed
	ExitError    = 2 // Configuration or runtime error
)

// TerminalTokenError indicates the server definitively rejected the
// assessment token; retrying cannot succeed.
type TerminalTokenError struct {
	Message string
}

func (e *TerminalTokenError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var terminalErr *TerminalTokenError
		if errors.As(err, &terminalErr) {
			os.Exit(ExitTerminal)
		}

		os.Exit(ExitError)
	}
}
