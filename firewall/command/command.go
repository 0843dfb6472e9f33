// Package command runs external programs on behalf of the firewall backends.
package command

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts the execution of external commands, so that backends can
// be tested without touching the host.
type Runner interface {
	Run(name string, args ...string) error
	RunInput(input []byte, name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// OS executes commands on the host.
type OS struct{}

var _ Runner = OS{}

// Run executes a command, discarding its output unless it fails.
func (OS) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return cmdErr(name, args, err, out)
	}
	return nil
}

// RunInput executes a command with input written to its stdin.
func (OS) RunInput(input []byte, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = bytes.NewReader(input)
	if out, err := cmd.CombinedOutput(); err != nil {
		return cmdErr(name, args, err, out)
	}
	return nil
}

// Output executes a command and returns its stdout.
func (OS) Output(name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, cmdErr(name, args, err, stderr.Bytes())
	}
	return out, nil
}

func cmdErr(name string, args []string, err error, out []byte) error {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("command '%s' failed: %w: %s", cmdline, err, msg)
	}
	return fmt.Errorf("command '%s' failed: %w", cmdline, err)
}

// EnableIPv4Forwarding turns on IPv4 packet forwarding in the kernel.
func EnableIPv4Forwarding(r Runner) error {
	return r.Run("sysctl", "-w", "net.ipv4.ip_forward=1")
}
