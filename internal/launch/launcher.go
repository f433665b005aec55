package launch

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
)

// Result reports the outcome of a finished launch.
type Result struct {
	Success bool
	Message string
}

// Launcher starts an executable and reports its completion.
type Launcher interface {
	// Launch starts the binary at path. The returned channel delivers
	// exactly one Result when the process exits (or fails to start).
	Launch(ctx context.Context, path string) <-chan Result
}

// ExecLauncher runs builds as child processes.
type ExecLauncher struct {
	// Out receives progress lines; nil discards.
	Out io.Writer
}

// Launch starts path with its own directory as the working directory, so
// builds locate their bundled assets by relative path. The process is
// killed when ctx is cancelled.
func (l *ExecLauncher) Launch(ctx context.Context, path string) <-chan Result {
	out := l.Out
	if out == nil {
		out = io.Discard
	}
	done := make(chan Result, 1)

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = filepath.Dir(path)

	if err := cmd.Start(); err != nil {
		done <- Result{Message: fmt.Sprintf("failed to start %s: %v", path, err)}
		return done
	}
	fmt.Fprintf(out, "launch: started %s (pid %d)\n", path, cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			fmt.Fprintf(out, "launch: %s exited with error: %v\n", path, err)
			done <- Result{Message: fmt.Sprintf("%s exited with error: %v", filepath.Base(path), err)}
			return
		}
		fmt.Fprintf(out, "launch: %s exited cleanly\n", path)
		done <- Result{Success: true, Message: fmt.Sprintf("%s exited cleanly", filepath.Base(path))}
	}()
	return done
}
