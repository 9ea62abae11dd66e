package util

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// IsTerminal checks if stdout is a terminal using go-isatty
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// ShouldUseColors determines if coloured output should be used.
// Honours https://no-color.org/ conventions.
func ShouldUseColors() bool {
	if noColor := os.Getenv("NO_COLOR"); noColor != "" {
		return false
	}

	if forceColor := os.Getenv("FORCE_COLOR"); forceColor != "" {
		return forceColor != "0"
	}

	if tidingsColors := os.Getenv("TIDINGS_FORCE_COLORS"); tidingsColors != "" {
		return strings.ToLower(tidingsColors) == "true"
	}

	return IsTerminal()
}
