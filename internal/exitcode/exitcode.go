// Package exitcode defines exit codes for the CLI.
package exitcode

const (
	// Success indicates successful completion.
	Success = 0

	// UserError indicates a user error (bad args, unknown command, bad task id).
	UserError = 1

	// AuthError indicates a missing session, rejected credentials, or missing backend config.
	AuthError = 2

	// BackendError indicates a hosted backend, storage, realtime, or network error.
	BackendError = 3
)
