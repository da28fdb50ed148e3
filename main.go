package main

import (
	"os"

	"golang.org/x/term"

	"github.com/personahub/personahub/cmd"
)

var originalTerminalState *term.State

func main() {
	saveTerminalState()
	defer restoreTerminalState()
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func saveTerminalState() {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.GetState(int(os.Stdin.Fd()))
		if err == nil {
			originalTerminalState = state
		}
	}
}

func restoreTerminalState() {
	if originalTerminalState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), originalTerminalState)
	}
}
