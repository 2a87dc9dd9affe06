package ui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by Confirm when no terminal is attached.
var ErrNotInteractive = errors.New("confirmation requires an interactive terminal (use --yes)")

// Confirm asks a yes/no question. It returns ErrNotInteractive instead of
// blocking when stdin or stdout is not a terminal.
func Confirm(title, description string) (bool, error) {
	if !Interactive() {
		return false, ErrNotInteractive
	}

	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return ok, nil
}
