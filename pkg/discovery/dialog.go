package discovery

import (
	"fmt"
	"strings"
)

// Dialog is a native JavaScript dialog (alert, confirm, prompt or
// beforeunload) opened by the page under discovery.
type Dialog struct {
	Type          string
	Message       string
	DefaultPrompt string
	URL           string
}

// DialogPolicy decides how each dialog is answered. promptText only matters
// for prompt dialogs.
type DialogPolicy interface {
	Respond(d Dialog) (accept bool, promptText string)
}

// PolicyFunc adapts a function to DialogPolicy.
type PolicyFunc func(d Dialog) (bool, string)

// Respond calls f(d).
func (f PolicyFunc) Respond(d Dialog) (bool, string) {
	return f(d)
}

var (
	// AcceptDialogs confirms every dialog, keeping any default prompt value.
	AcceptDialogs DialogPolicy = PolicyFunc(func(d Dialog) (bool, string) {
		return true, d.DefaultPrompt
	})

	// DismissDialogs cancels every dialog.
	DismissDialogs DialogPolicy = PolicyFunc(func(Dialog) (bool, string) {
		return false, ""
	})
)

// ParseDialogPolicy maps "accept" (or empty) and "dismiss" to a policy.
func ParseDialogPolicy(name string) (DialogPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "accept":
		return AcceptDialogs, nil
	case "dismiss":
		return DismissDialogs, nil
	default:
		return nil, fmt.Errorf("unknown dialog policy %q", name)
	}
}
