package localsession

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/exitcode"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/ipc"
	"github.com/dreamworksanimation/arras4-core/message"
)

// connectTimeout bounds how long Start waits for the spawned worker to
// connect back over the IPC socket before giving up.
const connectTimeout = 20 * time.Second

// negotiationTimeout bounds how long Start waits, once connected, for
// the worker's RegistrationData handshake.
const negotiationTimeout = 5 * time.Second

// State is where a LocalSession sits in its constructed -> started
// (connecting) -> running -> terminated lifecycle.
type State int

const (
	StateConstructed State = iota
	StateStarted
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminateFunc is called once, exactly once, when a session's worker
// process exits, mirroring LocalSession::TerminateFunc. expected is true
// when Stop caused the termination; status carries the disconnect
// reason a node would otherwise report upstream.
type TerminateFunc func(expected bool, status map[string]any)

// LocalSession supervises one worker process: building its spawn
// arguments and exec-config file, spawning it, accepting its IPC
// connection, and reporting how it eventually exits. Grounded on
// arras4_client's LocalSession.
type LocalSession struct {
	address address.Address
	name    string

	execConfigPath string
	ipcAddress     string

	mu                sync.Mutex
	state             State
	spawnArgs         *SpawnArgs
	cmd               *exec.Cmd
	conn              *ipc.Conn
	terminationWanted bool
	terminateCallback TerminateFunc
}

// New constructs a LocalSession for sessionID, generating fresh node and
// computation identifiers the way LocalSession's constructor does.
func New(sessionID id.UUID) *LocalSession {
	return &LocalSession{
		address: address.New(sessionID, id.New(), id.New()),
		state:   StateConstructed,
	}
}

// Address is the session's (session, node, computation) triple.
func (s *LocalSession) Address() address.Address {
	return s.address
}

// State reports the session's current lifecycle state.
func (s *LocalSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configure assembles spawn arguments, applies packaging, and writes
// the exec-config file for the named computation. def is the
// computation's definition object ({"requirements": ..., "environment":
// ..., "workingDirectory": ...}); contexts maps context names to context
// objects, referenced by def["requirements"]["context"]. Must be called
// before Start.
func (s *LocalSession) Configure(name string, def map[string]any, contexts map[string]any, routing map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConstructed {
		return fmt.Errorf("localsession: Configure called in state %s", s.state)
	}
	s.name = name
	s.execConfigPath = filepath.Join(os.TempDir(), fmt.Sprintf("exec-%s-%s", name, s.address.Computation.String()))
	s.ipcAddress = s.execConfigPath + ".ipc"

	requirements := getObject(def, "requirements")
	ctxName := getString(requirements, "context", "")
	var ctx map[string]any
	if ctxName != "" {
		ctxObj, ok := contexts[ctxName].(map[string]any)
		if !ok {
			return fmt.Errorf("localsession: context %q required by %s is missing", ctxName, name)
		}
		ctx = ctxObj
	}

	spawnArgs, err := newSpawnArgs(s.address, name, def, ctxName, ctx)
	if err != nil {
		return err
	}
	spawnArgs.Args = append(spawnArgs.Args, s.execConfigPath)

	execConfig := buildExecConfig(s.address, name, def, s.ipcAddress)
	if routing != nil {
		execConfig["routing"] = routing
	}
	doc, err := message.ObjectToString(execConfig)
	if err != nil {
		return fmt.Errorf("localsession: encoding exec-config: %w", err)
	}
	if err := os.WriteFile(s.execConfigPath, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("localsession: writing exec-config %s: %w", s.execConfigPath, err)
	}

	s.spawnArgs = spawnArgs
	return nil
}

// Start spawns the worker process, accepts its IPC connection, and
// validates its registration handshake, mirroring LocalSession::start.
// tf is invoked exactly once, from a background goroutine, once the
// worker process exits.
func (s *LocalSession) Start(tf TerminateFunc) error {
	s.mu.Lock()
	if s.state != StateConstructed {
		s.mu.Unlock()
		return fmt.Errorf("localsession: Start called in state %s", s.state)
	}
	if s.spawnArgs == nil {
		s.mu.Unlock()
		return errors.New("localsession: Start called before Configure")
	}
	s.terminateCallback = tf
	s.state = StateStarted
	spawnArgs := s.spawnArgs
	s.mu.Unlock()

	_ = os.Remove(s.ipcAddress)
	listener, err := net.Listen("unix", s.ipcAddress)
	if err != nil {
		return fmt.Errorf("localsession: listening on %s: %w", s.ipcAddress, err)
	}
	defer listener.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		if unixListener, ok := listener.(*net.UnixListener); ok {
			_ = unixListener.SetDeadline(time.Now().Add(connectTimeout))
		}
		conn, err := listener.Accept()
		accepted <- acceptResult{conn, err}
	}()

	cmd := exec.Command(spawnArgs.Program, spawnArgs.Args...)
	cmd.Env = spawnArgs.Environment()
	cmd.Dir = spawnArgs.WorkingDirectory
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if spawnArgs.CleanupProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("localsession: spawning %s: %w", spawnArgs.Program, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	go s.waitForExit(cmd)

	result := <-accepted
	if result.err != nil {
		return fmt.Errorf("localsession: computation failed to connect within timeout: %w", result.err)
	}

	conn := ipc.NewConn(result.conn, message.Default)
	if err := result.conn.SetReadDeadline(time.Now().Add(negotiationTimeout)); err != nil {
		logging.Warnw("failed to set IPC negotiation deadline", "session", s.address.Session.String(), "error", err)
	}
	reg, err := conn.ReadRegistration()
	if err != nil {
		conn.Shutdown()
		return fmt.Errorf("localsession: computation sent invalid registration data: %w", err)
	}
	if reg.Address() != s.address {
		conn.Shutdown()
		return fmt.Errorf("localsession: computation registered with the wrong address: got %v, want %v", reg.Address(), s.address)
	}
	_ = result.conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

// Conn returns the supervisor's end of the IPC connection to the
// worker, valid once Start has returned successfully.
func (s *LocalSession) Conn() *ipc.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Stop requests that the worker process terminate, marking the eventual
// termination as expected.
func (s *LocalSession) Stop() {
	s.mu.Lock()
	s.terminationWanted = true
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Pause sends SIGSTOP to the worker process.
func (s *LocalSession) Pause() {
	s.signal(syscall.SIGSTOP)
}

// Resume sends SIGCONT to the worker process.
func (s *LocalSession) Resume() {
	s.signal(syscall.SIGCONT)
}

func (s *LocalSession) signal(sig syscall.Signal) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// waitForExit blocks until cmd exits, then translates the result into
// the termination callback, mirroring LocalSession::onTerminate.
func (s *LocalSession) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	s.state = StateTerminated
	expected := s.terminationWanted
	conn := s.conn
	cb := s.terminateCallback
	s.mu.Unlock()

	if conn != nil {
		conn.Shutdown()
	}

	code := exitCodeOf(err)
	reason := fmt.Sprintf("compExited: %s %s", s.name, exitcode.String(code, expected))
	logging.Infow("computation exited", "session", s.address.Session.String(), "computation", s.name, "code", code, "expected", expected)

	if cb != nil {
		cb(expected, map[string]any{
			"disconnectReason":   reason,
			"execStatus":         "stopped",
			"execStoppedReason":  reason,
		})
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
