package mpwbuild

import (
	"os/exec"
	"strings"
	"testing"
)

// fakeRunner records every command instead of spawning it. Run
// failures are keyed by tool name, Output results by the full argv,
// and hook lets a test materialize the files a real tool would have
// produced.
type fakeRunner struct {
	calls [][]string
	dirs  []string

	lookErr map[string]error
	runErr  map[string]error
	outputs map[string]string
	outErr  map[string]error
	hook    func(cmd *exec.Cmd) error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		lookErr: map[string]error{},
		runErr:  map[string]error{},
		outputs: map[string]string{},
		outErr:  map[string]error{},
	}
}

func (f *fakeRunner) Run(cmd *exec.Cmd) error {
	f.calls = append(f.calls, append([]string(nil), cmd.Args...))
	f.dirs = append(f.dirs, cmd.Dir)
	if err := f.runErr[cmd.Args[0]]; err != nil {
		return err
	}
	if f.hook != nil {
		return f.hook(cmd)
	}
	return nil
}

func (f *fakeRunner) Output(cmd *exec.Cmd) ([]byte, error) {
	f.calls = append(f.calls, append([]string(nil), cmd.Args...))
	f.dirs = append(f.dirs, cmd.Dir)
	key := strings.Join(cmd.Args, " ")
	if err, ok := f.outErr[key]; ok {
		return nil, err
	}
	return []byte(f.outputs[key]), nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if err, ok := f.lookErr[name]; ok {
		return "", err
	}
	return "/usr/bin/" + name, nil
}

// toolCalls filters the recorded argv list down to invocations of one
// tool.
func (f *fakeRunner) toolCalls(tool string) [][]string {
	var out [][]string
	for _, call := range f.calls {
		if call[0] == tool {
			out = append(out, call)
		}
	}
	return out
}

// memState is an in-memory StateStore.
type memState struct {
	acquired map[string]bool
	patched  map[string]bool
	versions map[string]string
}

func newMemState() *memState {
	return &memState{
		acquired: map[string]bool{},
		patched:  map[string]bool{},
		versions: map[string]string{},
	}
}

func (m *memState) Acquired(root string) bool       { return m.acquired[root] }
func (m *memState) MarkAcquired(root string) error  { m.acquired[root] = true; return nil }
func (m *memState) Patched(root string) bool        { return m.patched[root] }
func (m *memState) MarkPatched(root string) error   { m.patched[root] = true; return nil }
func (m *memState) RecordVersion(root, v string) error {
	m.versions[root] = v
	return nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Values:  map[string]string{},
		Targets: []string{"mpw"},
		LibDir:  t.TempDir(),
		Color:   false,
	}
}

func newTestBuilder(t *testing.T) (*Builder, *fakeRunner, *memState) {
	t.Helper()
	r := newFakeRunner()
	st := newMemState()
	return NewBuilder(testConfig(t), r, st), r, st
}
