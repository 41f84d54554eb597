// Package compose resolves the published address of a docker compose
// service.
package compose

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes a command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

// Output runs name with args and returns stdout. A non-zero exit is an error
// carrying stderr.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// ResolveError reports a service whose address could not be determined.
type ResolveError struct {
	Service string
	Port    int
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s:%d: %v", e.Service, e.Port, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// IsResolveError reports whether err is a ResolveError.
func IsResolveError(err error) bool {
	var re *ResolveError
	return errors.As(err, &re)
}

// Resolver asks docker compose where a container port is published.
type Resolver struct {
	// ComposeFile is passed with -f when set.
	ComposeFile string
	// Runner defaults to ExecRunner.
	Runner Runner
}

// BaseURL returns http://host:port for the published container port.
func (r *Resolver) BaseURL(ctx context.Context, service string, port int) (string, error) {
	runner := r.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	args := []string{"compose"}
	if r.ComposeFile != "" {
		args = append(args, "-f", r.ComposeFile)
	}
	args = append(args, "port", service, strconv.Itoa(port))

	out, err := runner.Output(ctx, "docker", args...)
	if err != nil {
		return "", &ResolveError{Service: service, Port: port, Err: err}
	}

	addr, err := parsePortOutput(out)
	if err != nil {
		return "", &ResolveError{Service: service, Port: port, Err: err}
	}
	return "http://" + addr, nil
}

// parsePortOutput takes the first "host:port" line printed by
// `docker compose port`.
func parsePortOutput(out []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		host, port, err := net.SplitHostPort(line)
		if err != nil {
			return "", fmt.Errorf("unparsable address %q: %w", line, err)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return "", fmt.Errorf("unparsable port in %q", line)
		}
		if host == "" {
			return "", fmt.Errorf("empty host in %q", line)
		}
		return net.JoinHostPort(host, port), nil
	}
	return "", errors.New("no published address")
}
