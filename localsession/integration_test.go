package localsession

import (
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/compenv"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/ipc"
	"github.com/dreamworksanimation/arras4-core/limits"
	"github.com/dreamworksanimation/arras4-core/message"
)

// helperEnvVar, when set in a subprocess's environment, makes this test
// binary re-exec as a standalone worker (runWorkerHelper) instead of
// running the ordinary test suite. This is the same self-reexec idiom
// net/http and os/exec use to test real subprocess behavior without a
// separately built binary.
const helperEnvVar = "ARRAS_LOCALSESSION_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnvVar) != "" {
		os.Exit(runWorkerHelper())
	}
	os.Exit(m.Run())
}

// echoComputation is a minimal compenv.Computation used only by
// runWorkerHelper, recognizing no messages of its own.
type echoComputation struct{}

func (echoComputation) OnMessage(message.Envelope) compenv.Result       { return compenv.Unknown }
func (echoComputation) OnIdle()                                        {}
func (echoComputation) Configure(string, map[string]any) compenv.Result { return compenv.Success }
func (echoComputation) WantsHyperthreading() bool                      { return false }

// runWorkerHelper plays the worker side of the IPC handshake for real,
// in its own OS process: it reads the exec-config file LocalSession.
// Configure wrote, dials the supervisor's IPC socket, sends a
// RegistrationData handshake, then runs a CompEnvironment against the
// connection exactly as cmd/execcomp's bootstrap does.
func runWorkerHelper() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "arras4-core test helper: missing exec-config path")
		return exitInvalidArgs
	}
	configPath := os.Args[len(os.Args)-1]

	raw, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arras4-core test helper: reading exec-config:", err)
		return exitConfigError
	}
	doc, err := message.StringToObject(string(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "arras4-core test helper: parsing exec-config:", err)
		return exitConfigError
	}

	addr, ipcPath, err := addressFromExecConfig(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arras4-core test helper:", err)
		return exitConfigError
	}

	conn, err := net.Dial("unix", ipcPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arras4-core test helper: dialing supervisor:", err)
		return exitConnectError
	}
	ipcConn := ipc.NewConn(conn, message.Default)
	if err := ipcConn.WriteRegistration(ipc.NewRegistration(ipc.RegistrationExecutor, addr)); err != nil {
		fmt.Fprintln(os.Stderr, "arras4-core test helper: sending registration:", err)
		return exitConnectError
	}

	const compName = "test.integration.echo"
	compenv.Register(compName, func(compenv.Environment) compenv.Computation { return echoComputation{} })
	env, err := compenv.New(compName, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arras4-core test helper: loading computation:", err)
		return exitConfigError
	}

	lim := limits.Default()
	reason := env.Run(ipcConn, &lim, false, addr)
	switch reason {
	case compenv.ExitQuit, compenv.ExitDisconnected:
		return 0
	default:
		fmt.Fprintln(os.Stderr, "arras4-core test helper: unexpected exit reason:", reason)
		return exitUnspecified
	}
}

const (
	exitInvalidArgs  = 1
	exitConfigError  = 9
	exitConnectError = 20
	exitUnspecified  = 14
)

func addressFromExecConfig(doc map[string]any) (address.Address, string, error) {
	sessionStr, _ := doc["sessionId"].(string)
	compStr, _ := doc["compId"].(string)
	nodeStr, _ := doc["nodeId"].(string)
	ipcPath, _ := doc["ipc"].(string)
	if sessionStr == "" || compStr == "" || nodeStr == "" || ipcPath == "" {
		return address.Address{}, "", fmt.Errorf("exec-config missing sessionId/compId/nodeId/ipc")
	}
	sessionID, err := id.Parse(sessionStr)
	if err != nil {
		return address.Address{}, "", fmt.Errorf("sessionId: %w", err)
	}
	compID, err := id.Parse(compStr)
	if err != nil {
		return address.Address{}, "", fmt.Errorf("compId: %w", err)
	}
	nodeID, err := id.Parse(nodeStr)
	if err != nil {
		return address.Address{}, "", fmt.Errorf("nodeId: %w", err)
	}
	return address.New(sessionID, nodeID, compID), ipcPath, nil
}

// newHelperSession configures a LocalSession the normal way, then
// redirects its spawn target from "execcomp" to this very test binary
// (re-executed with helperEnvVar set), so Start spawns a real,
// independent worker process without depending on a built execcomp
// binary.
func newHelperSession(t *testing.T) *LocalSession {
	t.Helper()
	selfExe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	s := New(id.New())
	def := map[string]any{
		"requirements": map[string]any{"packaging_system": "current-environment"},
	}
	if err := s.Configure("comp", def, nil, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	s.spawnArgs.Program = selfExe
	s.spawnArgs.Args = []string{s.execConfigPath}
	s.spawnArgs.env.set(helperEnvVar, "1")
	return s
}

// TestLocalSessionDrivesRealWorkerProcess starts a real, separate OS
// process as the worker, drives it through the "go" -> "ready" ->
// "stop" control-message exchange over the actual Unix-domain IPC
// socket LocalSession listens on, and asserts the supervisor observes
// a clean, expected-looking termination, exercising the two-process
// IPC handshake end to end rather than in isolation on one side.
func TestLocalSessionDrivesRealWorkerProcess(t *testing.T) {
	s := newHelperSession(t)

	type termination struct {
		expected bool
		status   map[string]any
	}
	termCh := make(chan termination, 1)
	if err := s.Start(func(expected bool, status map[string]any) {
		termCh <- termination{expected, status}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := s.Conn()
	if conn == nil {
		t.Fatal("expected a non-nil Conn after a successful Start")
	}

	goMsg := message.New(&message.ControlMessage{Command: message.ControlCommandGo}, address.Address{}, "")
	if err := conn.PutEnvelope(goMsg); err != nil {
		t.Fatalf("sending 'go': %v", err)
	}

	readyDeadline := time.Now().Add(10 * time.Second)
	var sawReady bool
	for time.Now().Before(readyDeadline) {
		env, err := conn.GetEnvelope()
		if err != nil {
			t.Fatalf("waiting for 'ready': %v", err)
		}
		if ctrl, ok := env.Content.Object.(*message.ControlMessage); ok && ctrl.Command == message.ControlCommandReady {
			sawReady = true
			break
		}
	}
	if !sawReady {
		t.Fatal("worker never sent a 'ready' control message")
	}

	stopMsg := message.New(&message.ControlMessage{Command: message.ControlCommandStop}, address.Address{}, "")
	if err := conn.PutEnvelope(stopMsg); err != nil {
		t.Fatalf("sending 'stop': %v", err)
	}

	select {
	case term := <-termCh:
		if term.status["execStatus"] != "stopped" {
			t.Fatalf("expected execStatus \"stopped\", got %v", term.status["execStatus"])
		}
	case <-time.After(15 * time.Second):
		t.Fatal("worker never reported termination after 'stop'")
	}

	if got := s.State(); got != StateTerminated {
		t.Fatalf("expected state %s, got %s", StateTerminated, got)
	}
}

// TestLocalSessionStopTerminatesWorker covers Stop() against a real
// worker process that never gets a "go"/"stop" exchange at all: the
// supervisor signals the process directly, and must still observe a
// termination callback rather than hanging indefinitely.
func TestLocalSessionStopTerminatesWorker(t *testing.T) {
	s := newHelperSession(t)

	termCh := make(chan map[string]any, 1)
	if err := s.Start(func(_ bool, status map[string]any) {
		termCh <- status
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()

	select {
	case <-termCh:
	case <-time.After(15 * time.Second):
		t.Fatal("worker never reported termination after Stop")
	}
	if got := s.State(); got != StateTerminated {
		t.Fatalf("expected state %s, got %s", StateTerminated, got)
	}
}
