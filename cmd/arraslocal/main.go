// Command arraslocal runs one computation of a session definition as a
// supervised local child process, rather than submitting it to a
// coordinator. It plays the client side of the local-session handshake:
// load a session definition, spawn the worker through localsession, wait
// for its "ready" control message, send "go", and report how it exits.
// Grounded on arras4_client's arrasRez and msgClientPlay command drivers,
// wired to localsession instead of the coordinator-backed SDK client.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap/zapcore"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/ipc"
	"github.com/dreamworksanimation/arras4-core/localsession"
	"github.com/dreamworksanimation/arras4-core/message"
)

// clientName is the reserved computation name every session definition
// carries for the submitting client itself.
const clientName = "(client)"

func main() {
	app := cli.NewApp()
	app.Name = "arraslocal"
	app.Usage = "run one computation of a session definition as a local child process"
	app.ArgsUsage = "<session-definition-file>"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "log-level", Value: 2, Usage: "log level [0-5], 5 is highest"},
		cli.StringFlag{Name: "athena-env", Value: "prod", Usage: "environment tag for Athena logging"},
		cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "how long to wait for the worker to connect and go ready, and how long to run once ready"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "arraslocal:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := logging.Initialize(logging.ConsoleStyle, zapcore.Level(clampLogLevel(c.Int("log-level")))); err != nil {
		fmt.Fprintln(os.Stderr, "arraslocal: failed to initialize logging:", err)
	}
	os.Setenv("ARRAS_ATHENA_ENV", c.String("athena-env"))

	sessionFile := c.Args().Get(0)
	if sessionFile == "" {
		return cli.NewExitError("a session-definition file is required", 1)
	}
	raw, err := os.ReadFile(sessionFile)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("reading %q: %v", sessionFile, err), 1)
	}
	sessionDef, err := message.StringToObject(string(raw))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("parsing %q: %v", sessionFile, err), 1)
	}
	workerName, workerDef, contexts, err := parseSessionDefinition(sessionDef)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	sessions := localsession.NewSessions()
	sessionID := id.New()
	session, err := sessions.CreateSession(sessionID)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer sessions.ShutdownAll()

	routing := routingDoc(sessionID, workerName, session.Address())
	if err := session.Configure(workerName, workerDef, contexts, routing); err != nil {
		return cli.NewExitError(fmt.Sprintf("configuring %q: %v", workerName, err), 1)
	}

	termCh := make(chan map[string]any, 1)
	var expected bool
	if err := session.Start(func(exp bool, status map[string]any) {
		expected = exp
		termCh <- status
	}); err != nil {
		return cli.NewExitError(fmt.Sprintf("starting %q: %v", workerName, err), 1)
	}
	fmt.Printf("started %q, session %s\n", workerName, sessionID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	conn := session.Conn()
	readyCh := make(chan struct{}, 1)
	go streamWorkerOutput(conn, readyCh)

	timeout := c.Duration("timeout")
	select {
	case <-readyCh:
		fmt.Println("worker is ready")
	case status := <-termCh:
		return reportAndExit(status, expected)
	case <-time.After(timeout):
		session.Stop()
		return reportAndExit(<-termCh, false)
	}

	if err := conn.PutEnvelope(controlMessage(message.ControlCommandGo)); err != nil {
		session.Stop()
		<-termCh
		return cli.NewExitError(fmt.Sprintf("sending go: %v", err), 1)
	}
	fmt.Println("sent go")

	select {
	case sig := <-sigCh:
		fmt.Printf("arraslocal: received %s, stopping worker\n", sig)
		session.Stop()
	case <-time.After(timeout):
		fmt.Println("arraslocal: timeout elapsed, stopping worker")
		session.Stop()
	case status := <-termCh:
		return reportAndExit(status, expected)
	}

	return reportAndExit(<-termCh, expected)
}

// streamWorkerOutput logs every envelope the worker sends, signaling
// readyCh the first time it sees the "ready" control message, until the
// connection is shut down.
func streamWorkerOutput(conn *ipc.Conn, readyCh chan<- struct{}) {
	for {
		env, err := conn.GetEnvelope()
		if err != nil {
			return
		}
		if ctrl, ok := env.Content.Object.(*message.ControlMessage); ok {
			fmt.Println("worker control message:", ctrl.Command)
			if ctrl.Command == message.ControlCommandReady {
				select {
				case readyCh <- struct{}{}:
				default:
				}
			}
			continue
		}
		fmt.Println("received:", env.Metadata.Describe())
	}
}

func controlMessage(command string) message.Envelope {
	return message.New(&message.ControlMessage{Command: command}, address.Address{}, "")
}

func reportAndExit(status map[string]any, expected bool) error {
	if status != nil {
		fmt.Printf("worker stopped: %v\n", status["execStoppedReason"])
	}
	if !expected {
		return cli.NewExitError("worker terminated unexpectedly", 1)
	}
	return nil
}

func clampLogLevel(level int) int {
	if level < int(zapcore.DebugLevel) {
		return int(zapcore.DebugLevel)
	}
	if level > int(zapcore.FatalLevel) {
		return int(zapcore.FatalLevel)
	}
	return level
}

// parseSessionDefinition pulls the one non-"(client)" computation out of a
// session definition document, matching LocalSession's two-entry
// validation rule (one "(client)" stub plus exactly one real computation).
func parseSessionDefinition(def map[string]any) (name string, workerDef map[string]any, contexts map[string]any, err error) {
	comps, ok := def["computations"].(map[string]any)
	if !ok {
		return "", nil, nil, fmt.Errorf("session definition is missing a \"computations\" object")
	}
	if len(comps) != 2 {
		return "", nil, nil, fmt.Errorf("session definition must have exactly two computations, one of them %q", clientName)
	}
	if _, ok := comps[clientName]; !ok {
		return "", nil, nil, fmt.Errorf("session definition must include a %q entry", clientName)
	}
	for n, raw := range comps {
		if n == clientName {
			continue
		}
		wd, ok := raw.(map[string]any)
		if !ok {
			return "", nil, nil, fmt.Errorf("computation %q must be an object", n)
		}
		name, workerDef = n, wd
	}
	contexts, _ = def["contexts"].(map[string]any)
	return name, workerDef, contexts, nil
}

// routingDoc builds the minimal routing document a single-computation
// local session needs, matching the {sessionId: {computations: {...}}}
// shape CompEnvironment.SetRouting expects.
func routingDoc(sessionID id.UUID, workerName string, workerAddr address.Address) map[string]any {
	return map[string]any{
		sessionID.String(): map[string]any{
			"computations": map[string]any{
				workerName: map[string]any{
					"compId": workerAddr.Computation.String(),
					"nodeId": workerAddr.Node.String(),
				},
			},
		},
		"messageFilter": map[string]any{},
	}
}
