// Package pager runs an external log viewer (normally lnav) that reads the
// transcript on its standard input.
package pager

import (
	"fmt"
	"io"
	"os/exec"
)

// Pager is a running viewer process. Writes go to its standard input.
type Pager struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// Start launches path with args, sending its output to stdout and its
// errors to stderr.
//
// The viewer is not tied to a context: an interrupted run still closes its
// input and waits for it, so the user keeps the viewer open.
func Start(path string, stdout, stderr io.Writer, args ...string) (*Pager, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pager: stdin pipe for %s: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pager: starting %s: %w", path, err)
	}
	return &Pager{cmd: cmd, stdin: stdin}, nil
}

// Write sends transcript text to the viewer.
func (p *Pager) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Close ends the viewer's input and waits for the viewer to exit.
func (p *Pager) Close() error {
	closeErr := p.stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("pager: %s: %w", p.cmd.Path, err)
	}
	return closeErr
}
