package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrNotInteractive is returned by prompts when stdin is not a terminal.
var ErrNotInteractive = errors.New("not running in a terminal")

// NormalizeCode upper-cases a device code and strips the spaces and dashes
// people add when reading it aloud.
func NormalizeCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

// ValidateCode checks a device code as typed by the user.
func ValidateCode(s string) error {
	code := NormalizeCode(s)
	if code == "" {
		return errors.New("enter the code shown on the other device")
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("codes only contain letters and digits")
		}
	}
	return nil
}

// PromptCode asks for the other device's code.
func PromptCode() (string, error) {
	if !IsTerminal(os.Stdin) {
		return "", ErrNotInteractive
	}

	var code string
	err := huh.NewInput().
		Title("Other device's code").
		Description("Run `nootle sync serve` on the other device to get one.").
		Placeholder("e.g. 4F7A09C2").
		Validate(ValidateCode).
		Value(&code).
		Run()
	if err != nil {
		return "", err
	}
	return NormalizeCode(code), nil
}

// Confirm asks a yes/no question. Without a terminal it returns def.
func Confirm(question string, def bool) (bool, error) {
	if !IsTerminal(os.Stdin) {
		return def, nil
	}

	answer := def
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&answer).
		Run()
	return answer, err
}
