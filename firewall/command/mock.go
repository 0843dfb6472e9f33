package command

import (
	"github.com/stretchr/testify/mock"
)

// Mock is a Runner whose calls are recorded and answered with testify/mock
// expectations. Expectations are keyed by the command name, and match the
// command arguments, e.g. `m.On("sysctl", "-w", "net.ipv4.ip_forward=1")`.
// RunInput calls receive the input as a string before the arguments.
type Mock struct {
	mock.Mock
}

var _ Runner = (*Mock)(nil)

// Run implements Runner.
func (m *Mock) Run(name string, args ...string) error {
	return m.MethodCalled(name, callArgs(nil, args)...).Error(0)
}

// RunInput implements Runner.
func (m *Mock) RunInput(input []byte, name string, args ...string) error {
	return m.MethodCalled(name, callArgs([]any{string(input)}, args)...).Error(0)
}

// Output implements Runner.
func (m *Mock) Output(name string, args ...string) ([]byte, error) {
	result := m.MethodCalled(name, callArgs(nil, args)...)
	if result.Get(0) == nil {
		return nil, result.Error(1)
	}
	return result.Get(0).([]byte), result.Error(1) //nolint:forcetypeassert // Set by the test.
}

func callArgs(prefix []any, args []string) []any {
	out := make([]any, 0, len(prefix)+len(args))
	out = append(out, prefix...)
	for _, a := range args {
		out = append(out, a)
	}
	return out
}
