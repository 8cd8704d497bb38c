// Package sandbox defines the boundary to the ephemeral remote execution
// environment backing jobs and generated apps. The service only ever polls a
// sandbox; nothing here pushes events back.
package sandbox

import (
	"context"
	"time"
)

// RunOptions controls command execution inside a sandbox.
type RunOptions struct {
	// Background detaches the command; stdout/stderr in the result are empty.
	Background bool
	// Timeout bounds a foreground command. Zero means the agent default.
	Timeout time.Duration
}

// CommandResult is the captured outcome of a foreground command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox is one live execution environment.
type Sandbox interface {
	ID() string
	// Host returns the address serving the given sandbox-side port, suitable
	// for building preview URLs.
	Host(port int) (string, error)
	RunCommand(ctx context.Context, cmd string, opts RunOptions) (CommandResult, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	// ReadFile returns the file content, or ErrFileNotFound when the path
	// does not exist yet.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ListProcesses(ctx context.Context) ([]string, error)
	Destroy(ctx context.Context) error
}

// Provisioner creates sandboxes from a named template.
type Provisioner interface {
	Create(ctx context.Context, template string) (Sandbox, error)
}
