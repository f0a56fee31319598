package sunshine

import "errors"

// Error kinds returned by the controller. Every error returned from this
// package wraps exactly one of them, so callers can branch with errors.Is.
var (
	// ErrNotFound means a process, file, package or environment value is absent.
	ErrNotFound = errors.New("not found")
	// ErrPermission means a privileged step was refused by the OS.
	ErrPermission = errors.New("permission denied")
	// ErrNetwork means the control API could not be reached or answered non-2xx.
	ErrNetwork = errors.New("network error")
	// ErrParse means a response or command output could not be decoded.
	ErrParse = errors.New("parse error")
	// ErrUnauthorized means the control API rejected the stored credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected means the control API answered but declined the action.
	ErrRejected = errors.New("rejected by service")
)

// Kind returns a stable machine-readable name for the error kind wrapped by
// err, or "internal" if err wraps none of the package sentinels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission_denied"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "internal"
	}
}
