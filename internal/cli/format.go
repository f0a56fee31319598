package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Formatter outputs data in various formats.
type Formatter struct {
	w      io.Writer
	asJSON bool
}

// NewFormatter creates a new formatter.
func NewFormatter(w io.Writer, asJSON bool) *Formatter {
	return &Formatter{w: w, asJSON: asJSON}
}

// FormatStatus outputs the service state.
func (f *Formatter) FormatStatus(s *Status) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(s)
	}

	if s.Running {
		fmt.Fprintf(f.w, "Service:    running (PID %d)\n", s.PID)
	} else {
		fmt.Fprintln(f.w, "Service:    stopped")
	}
	fmt.Fprintf(f.w, "Authorized: %s\n", authorizedText(s))
	fmt.Fprintf(f.w, "Helper:     %s\n", yesNo(s.HelperInstalled, "installed", "missing"))
	if s.FreshInstallation {
		fmt.Fprintln(f.w, "Install:    fresh (set credentials with set-user)")
	}
	if !s.CheckedAt.IsZero() {
		fmt.Fprintf(f.w, "Checked:    %s\n", formatAgo(s.CheckedAt))
	}
	return nil
}

func authorizedText(s *Status) string {
	if !s.Running {
		return "-"
	}
	return yesNo(s.Authorized, "yes", "no (set credentials)")
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func formatAgo(t time.Time) string {
	ago := time.Since(t).Round(time.Second)
	if ago <= 0 {
		return "just now"
	}
	return ago.String() + " ago"
}

// FormatAction outputs an action result.
func (f *Formatter) FormatAction(action, result string) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(map[string]string{
			"action": action,
			"result": result,
		})
	}
	fmt.Fprintf(f.w, "%s: %s\n", action, result)
	return nil
}

// FormatDependencies outputs the result of a dependency check.
func (f *Formatter) FormatDependencies(d *DependenciesResponse) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(d)
	}
	if d.FreshInstallation {
		fmt.Fprintln(f.w, "Dependencies installed (fresh installation)")
		return nil
	}
	fmt.Fprintln(f.w, "Dependencies present")
	return nil
}

// FormatCredentials outputs the result of storing credentials.
func (f *Formatter) FormatCredentials(c *CredentialsResponse) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(c)
	}
	switch {
	case !c.AuthHeaderSet:
		fmt.Fprintln(f.w, "Credentials unchanged (empty username and password)")
	case c.Authorized:
		fmt.Fprintln(f.w, "Credentials stored, service accepted them")
	default:
		fmt.Fprintln(f.w, "Credentials stored, service did not accept them")
	}
	return nil
}
