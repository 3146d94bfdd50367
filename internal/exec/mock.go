package exec

import (
	"context"
	"strings"
	"sync"
)

// MockResponse is the canned result returned for a matched command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

type mockRule struct {
	name   string
	args   []string
	prefix bool
	resp   MockResponse
}

// MockExecutor returns canned responses for matched commands. Unmatched
// commands succeed with empty output, so tests only need to describe the
// calls they care about.
type MockExecutor struct {
	mu    sync.Mutex
	rules []mockRule
	calls [][]string
}

// NewMockExecutor creates a mock executor. The optional responses map keys
// are full command lines ("git status --porcelain") for exact matches.
func NewMockExecutor(responses map[string]MockResponse) *MockExecutor {
	m := &MockExecutor{}
	for line, resp := range responses {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		m.AddExactMatch(fields[0], fields[1:], resp)
	}
	return m
}

// AddExactMatch registers a response for an exact command + argument match.
func (m *MockExecutor) AddExactMatch(name string, args []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{name: name, args: args, resp: resp})
}

// AddPrefixMatch registers a response matched when the command name matches
// and the argument vector starts with args.
func (m *MockExecutor) AddPrefixMatch(name string, args []string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{name: name, args: args, prefix: true, resp: resp})
}

// Calls returns every command invocation seen so far, name first.
func (m *MockExecutor) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockExecutor) match(name string, args []string) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := append([]string{name}, args...)
	m.calls = append(m.calls, call)

	// Later rules win so tests can override earlier defaults.
	for i := len(m.rules) - 1; i >= 0; i-- {
		r := m.rules[i]
		if r.name != name {
			continue
		}
		if r.prefix {
			if len(args) >= len(r.args) && equal(args[:len(r.args)], r.args) {
				return r.resp
			}
			continue
		}
		if equal(args, r.args) {
			return r.resp
		}
	}
	return MockResponse{}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m *MockExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	resp := m.match(name, args)
	return resp.Stdout, resp.Stderr, resp.Err
}

func (m *MockExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp := m.match(name, args)
	return resp.Stdout, resp.Err
}

func (m *MockExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp := m.match(name, args)
	return append(resp.Stdout, resp.Stderr...), resp.Err
}
