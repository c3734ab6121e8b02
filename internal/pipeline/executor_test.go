package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocantos/msh/internal/cap"
	"github.com/marcelocantos/msh/internal/cap/builtin"
	"github.com/marcelocantos/msh/internal/jobs"
)

type fakeState struct {
	mu        sync.Mutex
	prompts   int
	status    int
	lastArg   string
	lastBg    int
	sourcing  int
	sourcedPr int // prompts requested while sourcing
}

func newFakeState() *fakeState {
	return &fakeState{lastBg: -1}
}

func (s *fakeState) Prompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourcing > 0 {
		s.sourcedPr++
		return
	}
	s.prompts++
}

func (s *fakeState) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeState) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *fakeState) SetLastArgument(arg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastArg = arg
}

func (s *fakeState) SetLastBackground(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBg = pid
}

func (s *fakeState) EnterSource() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourcing++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sourcing--
	}
}

type harness struct {
	engine *Engine
	state  *fakeState
	reaper *jobs.Reaper
	stdio  cap.Stdio
	dir    string

	mu       sync.Mutex
	finished []int
}

// newHarness builds an engine with the real builtins and a reaper polled in
// the background, standing in for the shell's SIGCHLD loop.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{state: newFakeState(), dir: t.TempDir()}
	h.reaper = jobs.NewReaper(nil, func(pid, status int) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.finished = append(h.finished, pid)
	})

	reg := cap.NewRegistry()
	builtin.RegisterAll(reg, h.reaper)
	h.engine = &Engine{Registry: reg, Reaper: h.reaper, State: h.state}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				h.reaper.Reap()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})

	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	out, err := os.Create(filepath.Join(h.dir, "stdout"))
	require.NoError(t, err)
	errf, err := os.Create(filepath.Join(h.dir, "stderr"))
	require.NoError(t, err)
	h.stdio = cap.Stdio{In: devnull, Out: out, Err: errf}
	t.Cleanup(h.stdio.Close)
	return h
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func (h *harness) run(t *testing.T, line string) error {
	t.Helper()
	return h.runContext(t, context.Background(), line)
}

func (h *harness) runContext(t *testing.T, ctx context.Context, line string) error {
	t.Helper()
	script, err := ParseLine(line)
	require.NoError(t, err)
	p := New()
	for i := 0; i < script.Len(); i++ {
		require.NoError(t, script.Fill(i, p, nil))
		if err := h.engine.Execute(ctx, p, h.stdio); err != nil {
			return err
		}
	}
	return nil
}

func (h *harness) stdout(t *testing.T) string {
	t.Helper()
	return h.read(t, "stdout")
}

func (h *harness) stderr(t *testing.T) string {
	t.Helper()
	return h.read(t, "stderr")
}

func (h *harness) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(h.path(name))
	require.NoError(t, err)
	return string(data)
}

func TestExecuteEmptyPipelinePrompts(t *testing.T) {
	h := newHarness(t)
	h.state.status = 5

	require.NoError(t, h.engine.Execute(context.Background(), New(), h.stdio))
	assert.Equal(t, 1, h.state.prompts)
	assert.Equal(t, 5, h.state.status)
}

func TestExecuteExit(t *testing.T) {
	h := newHarness(t)
	p := New()
	c, err := NewSimpleCommand("exit")
	require.NoError(t, err)
	p.AddStage(c)
	c, err = NewSimpleCommand("echo", "unreached")
	require.NoError(t, err)
	p.AddStage(c)

	err = h.engine.Execute(context.Background(), p, h.stdio)
	var exitErr *cap.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 0, exitErr.Code)
	assert.Equal(t, "Good Bye!!\n", h.stdout(t))
	assert.Equal(t, 0, p.Len())
}

func TestExecuteOutputRedirect(t *testing.T) {
	h := newHarness(t)
	out := h.path("out")

	require.NoError(t, h.run(t, "echo hello > "+out))
	assert.Equal(t, "hello\n", h.read(t, "out"))
	assert.Equal(t, 0, h.state.status)
	assert.Equal(t, "hello", h.state.lastArg)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, 1, h.state.prompts)
}

func TestExecuteAppendRedirect(t *testing.T) {
	h := newHarness(t)
	out := h.path("out")

	require.NoError(t, h.run(t, "echo one >> "+out))
	require.NoError(t, h.run(t, "echo two >> "+out))
	assert.Equal(t, "one\ntwo\n", h.read(t, "out"))

	require.NoError(t, h.run(t, "echo three > "+out))
	assert.Equal(t, "three\n", h.read(t, "out"))
}

func TestExecutePipeline(t *testing.T) {
	h := newHarness(t)
	in := h.path("in")
	require.NoError(t, os.WriteFile(in, []byte("alpha\nbeta\n"), 0o644))

	require.NoError(t, h.run(t, "cat < "+in+" | cat | cat > "+h.path("out")))
	assert.Equal(t, "alpha\nbeta\n", h.read(t, "out"))
}

func TestExecuteErrorRedirect(t *testing.T) {
	h := newHarness(t)
	missing := h.path("missing")

	require.NoError(t, h.run(t, "ls "+missing+" 2> "+h.path("err")))
	assert.NotEqual(t, 0, h.state.status)
	assert.Contains(t, h.read(t, "err"), "missing")
	assert.Empty(t, h.stderr(t))
}

func TestExecuteErrorToOutput(t *testing.T) {
	h := newHarness(t)
	missing := h.path("missing")

	require.NoError(t, h.run(t, "ls "+missing+" &> "+h.path("both")))
	assert.Contains(t, h.read(t, "both"), "missing")
	assert.Empty(t, h.stderr(t))
}

func TestExecuteExitStatus(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t, "false"))
	assert.Equal(t, 1, h.state.status)

	require.NoError(t, h.run(t, "true"))
	assert.Equal(t, 0, h.state.status)

	// Only the last stage decides.
	require.NoError(t, h.run(t, "false | true"))
	assert.Equal(t, 0, h.state.status)
}

func TestExecuteCannotExecute(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t, "msh-test-no-such-program arg"))
	assert.Equal(t, 1, h.state.status)
	assert.Contains(t, h.stderr(t), "msh-test-no-such-program: cannot execute")
}

func TestExecuteOnError(t *testing.T) {
	h := newHarness(t)
	t.Setenv("ON_ERROR", "something failed")

	require.NoError(t, h.run(t, "true"))
	assert.Empty(t, h.stdout(t))

	require.NoError(t, h.run(t, "false"))
	assert.Equal(t, "something failed\n", h.stdout(t))
}

func TestExecuteCd(t *testing.T) {
	h := newHarness(t)
	start := t.TempDir()
	t.Chdir(start)
	t.Setenv("HOME", h.dir)
	t.Setenv("PWD", start)
	t.Setenv("OLDPWD", "")

	target := filepath.Join(h.dir, "sub")
	require.NoError(t, os.Mkdir(target, 0o755))

	require.NoError(t, h.run(t, "cd "+target))
	assert.Equal(t, 0, h.state.status)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, evalPath(t, target), evalPath(t, wd))
	assert.Equal(t, wd, os.Getenv("PWD"))

	require.NoError(t, h.run(t, "cd "+filepath.Join(h.dir, "nope")))
	assert.Equal(t, 1, h.state.status)
	assert.Contains(t, h.stderr(t), "cd: can't cd to")
	wd2, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, wd2)

	require.NoError(t, h.run(t, "cd"))
	wd, err = os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, evalPath(t, h.dir), evalPath(t, wd))
}

func evalPath(t *testing.T, p string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(p)
	require.NoError(t, err)
	return resolved
}

func TestExecuteSetenvPrintenv(t *testing.T) {
	h := newHarness(t)
	t.Setenv("MSH_TEST_VAR", "")

	require.NoError(t, h.run(t, "setenv MSH_TEST_VAR hello"))
	assert.Equal(t, 0, h.state.status)
	assert.Equal(t, "hello", os.Getenv("MSH_TEST_VAR"))

	require.NoError(t, h.run(t, "printenv | cat > "+h.path("env")))
	assert.Contains(t, h.read(t, "env"), "MSH_TEST_VAR=hello\n")

	require.NoError(t, h.run(t, "unsetenv MSH_TEST_VAR"))
	_, ok := os.LookupEnv("MSH_TEST_VAR")
	assert.False(t, ok)
}

func TestExecuteUsageErrors(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t, "setenv ONLY_NAME"))
	assert.Equal(t, 1, h.state.status)
	assert.Contains(t, h.stderr(t), "setenv: requires two arguments")

	h.state.status = 0
	require.NoError(t, h.run(t, "unsetenv"))
	assert.Equal(t, 1, h.state.status)
	assert.Contains(t, h.stderr(t), "unsetenv: requires one argument")
}

func TestExecuteUsageErrorInBackgroundKeepsStatus(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t, "setenv ONLY_NAME &"))
	assert.Equal(t, 0, h.state.status)
}

func TestExecuteBackground(t *testing.T) {
	h := newHarness(t)
	h.state.status = 3

	require.NoError(t, h.run(t, "sleep 0.2 &"))
	assert.Equal(t, 3, h.state.status)
	pid := h.state.lastBg
	require.Greater(t, pid, 0)

	assert.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.finished) == 1 && h.finished[0] == pid
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, h.reaper.Tracker().Contains(pid))
}

func TestExecuteBackgroundReturnsImmediately(t *testing.T) {
	h := newHarness(t)

	start := time.Now()
	require.NoError(t, h.run(t, "sleep 2 &"))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, h.reaper.Tracker().Contains(h.state.lastBg))
	assert.Equal(t, 1, h.state.prompts)
}

func TestExecuteOnErrorSkipsBackground(t *testing.T) {
	h := newHarness(t)
	t.Setenv("ON_ERROR", "BOOM")

	require.NoError(t, h.run(t, "false &"))
	require.NoError(t, h.run(t, "setenv ONLY_NAME &"))
	assert.Empty(t, h.stdout(t))

	require.NoError(t, h.run(t, "false"))
	require.NoError(t, h.run(t, "false &"))
	assert.Equal(t, "BOOM\n", h.stdout(t))
}

// openFDs counts the descriptors this process holds.
func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd")
	}
	return len(entries)
}

func TestExecuteClosesDescriptors(t *testing.T) {
	h := newHarness(t)
	in := h.path("in")
	require.NoError(t, os.WriteFile(in, []byte("a\nb\nc\n"), 0o600))

	lines := []string{
		"cat < " + in + " | cat | wc -l > " + h.path("count"),
		"ls " + h.path("absent") + " 2> " + h.path("err"),
		"echo more >> " + h.path("count"),
		"cat < " + h.path("absent") + " > " + h.path("out"),
		"printenv | wc -l > " + h.path("env"),
	}

	before := openFDs(t)
	for _, line := range lines {
		require.NoError(t, h.run(t, line))
	}
	assert.Equal(t, before, openFDs(t))
	assert.Equal(t, "3\nmore\n", strings.TrimLeft(h.read(t, "count"), " "))
	assert.NotEmpty(t, h.read(t, "err"))
}

func TestExecuteInputOpenFailureContinues(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t, "cat < "+h.path("absent")+" > "+h.path("out")))
	assert.Contains(t, h.stderr(t), "absent")
	assert.Equal(t, "", h.read(t, "out"))
	assert.Equal(t, 0, h.state.status)
}

func TestExecuteSource(t *testing.T) {
	h := newHarness(t)
	t.Setenv("MSH_SOURCED", "")
	script := h.path("script")
	out := h.path("out")
	require.NoError(t, os.WriteFile(script, []byte(
		"# comment\nsetenv MSH_SOURCED yes\necho $MSH_SOURCED > "+out+"\n"), 0o644))

	t.Setenv("MSH_REPLACED", "")

	require.NoError(t, h.run(t, "source "+script+" | setenv MSH_REPLACED no"))
	assert.Equal(t, "yes\n", h.read(t, "out"))
	assert.Equal(t, "", os.Getenv("MSH_REPLACED"))
	assert.Equal(t, 0, h.state.sourcing)
	assert.Equal(t, 1, h.state.prompts)
}

func TestExecuteSourceMissingFile(t *testing.T) {
	h := newHarness(t)

	t.Setenv("MSH_ABORTED", "")

	require.NoError(t, h.run(t, "source "+h.path("absent")+" | setenv MSH_ABORTED no"))
	assert.Equal(t, 1, h.state.status)
	assert.Contains(t, h.stderr(t), "source: file not found")
	assert.Equal(t, "", os.Getenv("MSH_ABORTED"))

	require.NoError(t, h.run(t, "source"))
	assert.Contains(t, h.stderr(t), "source: requires one argument")
}

func TestExecuteExitFromSourcedFile(t *testing.T) {
	h := newHarness(t)
	script := h.path("script")
	require.NoError(t, os.WriteFile(script, []byte("exit\necho after > "+h.path("never")+"\n"), 0o644))

	err := h.run(t, "source "+script)
	var exitErr *cap.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 0, exitErr.Code)
	assert.NoFileExists(t, h.path("never"))
}

func TestExecuteCancelledLaunchesNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.runContext(t, ctx, "echo hi > "+h.path("out")))
	// The redirect file is opened before the first stage is considered.
	assert.Equal(t, "", h.read(t, "out"))
	assert.Equal(t, 1, h.state.prompts)
}

func TestExecuteJobsAndHelp(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run(t, "help"))
	out := h.stdout(t)
	for _, name := range []string{"cd", "jobs", "printenv", "setenv", "source", "unsetenv", "exit"} {
		assert.True(t, strings.Contains(out, name), "help lists %s", name)
	}

	require.NoError(t, h.run(t, "sleep 1 &"))
	pid := h.state.lastBg
	require.NoError(t, h.run(t, "jobs > "+h.path("jobs")))
	assert.Contains(t, h.read(t, "jobs"), fmt.Sprintf("[%d] running", pid))
	assert.True(t, h.reaper.Tracker().Contains(pid))
}
