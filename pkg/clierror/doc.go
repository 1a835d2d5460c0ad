// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. This separates internal error details from
// what gets displayed to operators.
//
// Commands return a *CLIError when they can say something more useful
// than the raw failure; the entrypoint maps it to an exit code and
// prints the hint. Plain errors still work and exit with the general
// code.
package clierror
