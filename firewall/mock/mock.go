// Package mock provides an in-memory firewall, used in tests and when running
// without privileges.
package mock

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Mock is an in-memory firewall. Persisted rules are kept separately from the
// live ones, which makes it possible to test that temporary rules aren't
// persisted.
type Mock struct {
	mx        sync.Mutex
	rules     []ftypes.Rule
	persisted []ftypes.Rule
	// Number of times forwarding was enabled.
	forwarding int
	failErr    error // to simulate errors
	failOps    map[string]error
}

var _ ftypes.Firewall = (*Mock)(nil)

// New returns a new empty Mock firewall.
func New() *Mock {
	return &Mock{failOps: map[string]error{}}
}

// Init implements ftypes.Firewall.
func (m *Mock) Init() error {
	return m.fail("init")
}

// RuleExists implements ftypes.Firewall.
func (m *Mock) RuleExists(rule ftypes.Rule) (bool, error) {
	if err := m.fail("exists"); err != nil {
		return false, err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	return slices.Contains(m.rules, rule), nil
}

// InsertRule implements ftypes.Firewall. The insert fails if a failure was set
// for the "insert" operation or for the specific rule with SetRuleFailError.
func (m *Mock) InsertRule(rule ftypes.Rule) error {
	if err := m.fail("insert"); err != nil {
		return err
	}
	if err := m.fail("insert:" + rule.String()); err != nil {
		return err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	m.rules = append(m.rules, rule)
	return nil
}

// DeleteRule implements ftypes.Firewall.
func (m *Mock) DeleteRule(rule ftypes.Rule) error {
	if err := m.fail("delete"); err != nil {
		return err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	idx := slices.Index(m.rules, rule)
	if idx < 0 {
		return fmt.Errorf("failed deleting rule %s: %w", rule, ftypes.ErrRuleNotFound)
	}
	m.rules = slices.Delete(m.rules, idx, idx+1)
	return nil
}

// ListRules implements ftypes.Firewall.
func (m *Mock) ListRules() ([]ftypes.Rule, error) {
	if err := m.fail("list"); err != nil {
		return nil, err
	}
	return m.Rules(), nil
}

// EnableForwarding implements ftypes.Firewall.
func (m *Mock) EnableForwarding() error {
	if err := m.fail("forwarding"); err != nil {
		return err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	m.forwarding++
	return nil
}

// Persist implements ftypes.Firewall.
func (m *Mock) Persist() error {
	if err := m.fail("persist"); err != nil {
		return err
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	m.persisted = slices.Clone(m.rules)
	return nil
}

// Snapshot implements ftypes.Firewall.
func (m *Mock) Snapshot() ([]byte, error) {
	if err := m.fail("snapshot"); err != nil {
		return nil, err
	}
	return json.Marshal(m.Rules()) //nolint:wrapcheck // Can't fail for these types.
}

// Restore implements ftypes.Firewall.
func (m *Mock) Restore(data []byte) error {
	if err := m.fail("restore"); err != nil {
		return err
	}
	var rules []ftypes.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("failed parsing rules dump: %w", err)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	m.rules = rules
	return nil
}

// Rules returns a copy of the live rules.
func (m *Mock) Rules() []ftypes.Rule {
	m.mx.Lock()
	defer m.mx.Unlock()
	return slices.Clone(m.rules)
}

// PersistedRules returns a copy of the rules saved by the last Persist call.
func (m *Mock) PersistedRules() []ftypes.Rule {
	m.mx.Lock()
	defer m.mx.Unlock()
	return slices.Clone(m.persisted)
}

// ForwardingEnabled returns the number of times forwarding was enabled.
func (m *Mock) ForwardingEnabled() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.forwarding
}

// SetFailError makes every operation fail with err. Pass nil to reset.
func (m *Mock) SetFailError(err error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.failErr = err
}

// SetOpFailError makes a single operation fail with err. Valid operations are
// init, exists, insert, delete, list, forwarding, persist, snapshot and
// restore. Pass nil to reset.
func (m *Mock) SetOpFailError(op string, err error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err == nil {
		delete(m.failOps, op)
		return
	}
	m.failOps[op] = err
}

// SetRuleFailError makes inserting a specific rule fail with err.
func (m *Mock) SetRuleFailError(rule ftypes.Rule, err error) {
	m.SetOpFailError("insert:"+rule.String(), err)
}

func (m *Mock) fail(op string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	return m.failOps[op]
}
