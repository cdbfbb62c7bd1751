package localsession

import (
	"testing"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

func testAddress() address.Address {
	return address.New(id.New(), id.New(), id.New())
}

func TestNewSpawnArgsAppliesResourcesAndEnvironment(t *testing.T) {
	def := map[string]any{
		"requirements": map[string]any{
			"packaging_system": "current-environment",
			"resources": map[string]any{
				"memoryMB": 256.0,
				"cores":    2.0,
			},
		},
		"environment": map[string]any{
			"FOO": "bar",
		},
	}

	spawnArgs, err := newSpawnArgs(testAddress(), "comp", def, "", nil)
	if err != nil {
		t.Fatalf("newSpawnArgs: %v", err)
	}
	if spawnArgs.AssignedMemoryMB != 256 {
		t.Fatalf("expected memoryMB 256, got %d", spawnArgs.AssignedMemoryMB)
	}
	if spawnArgs.AssignedCores != 2 {
		t.Fatalf("expected cores 2, got %d", spawnArgs.AssignedCores)
	}
	env := spawnArgs.Environment()
	if !containsVar(env, "FOO=bar") {
		t.Fatalf("expected FOO=bar in environment, got %v", env)
	}
	if !containsVar(env, "ARRAS_ATHENA_ENV=prod") {
		t.Fatalf("expected supervisor-set ARRAS_ATHENA_ENV, got %v", env)
	}
}

func TestNewSpawnArgsDefaultsWhenResourcesOmitted(t *testing.T) {
	def := map[string]any{
		"requirements": map[string]any{
			"packaging_system": "current-environment",
		},
	}
	spawnArgs, err := newSpawnArgs(testAddress(), "comp", def, "", nil)
	if err != nil {
		t.Fatalf("newSpawnArgs: %v", err)
	}
	if spawnArgs.AssignedMemoryMB != defaultMemoryMB {
		t.Fatalf("expected default memoryMB %d, got %d", defaultMemoryMB, spawnArgs.AssignedMemoryMB)
	}
	if spawnArgs.AssignedCores == 0 {
		t.Fatalf("expected a positive core count by default")
	}
}

func TestApplyShellPackagingRequiresScript(t *testing.T) {
	spawnArgs := &SpawnArgs{Program: "execcomp", env: newEnvLayers()}
	if err := applyShellPackaging(spawnArgs, map[string]any{}); err == nil {
		t.Fatal("expected an error when \"script\" is missing")
	}
}

func TestApplyShellPackagingWrapsProgram(t *testing.T) {
	spawnArgs := &SpawnArgs{Program: "execcomp", Args: []string{"a"}, env: newEnvLayers()}
	if err := applyShellPackaging(spawnArgs, map[string]any{"script": "/tmp/wrap.sh"}); err != nil {
		t.Fatalf("applyShellPackaging: %v", err)
	}
	if spawnArgs.Program != "/bin/bash" {
		t.Fatalf("expected program /bin/bash, got %s", spawnArgs.Program)
	}
	if len(spawnArgs.Args) != 3 || spawnArgs.Args[0] != "/tmp/wrap.sh" || spawnArgs.Args[1] != "execcomp" || spawnArgs.Args[2] != "a" {
		t.Fatalf("unexpected wrapped args: %v", spawnArgs.Args)
	}
}

func TestApplyRezPackagingRequiresPackagesOrContextFile(t *testing.T) {
	spawnArgs := &SpawnArgs{Program: "execcomp", env: newEnvLayers()}
	if err := applyRezPackaging(spawnArgs, map[string]any{}, 1); err == nil {
		t.Fatal("expected an error when neither rez_packages nor rez_context_file is set")
	}
}

func TestApplyRezPackagingBuildsRezEnvCommand(t *testing.T) {
	spawnArgs := &SpawnArgs{Program: "execcomp", Args: []string{"cfg.json"}, env: newEnvLayers()}
	if err := applyRezPackaging(spawnArgs, map[string]any{"rez_packages": "pkgA pkgB"}, 2); err != nil {
		t.Fatalf("applyRezPackaging: %v", err)
	}
	if spawnArgs.Program != "rez2-env" {
		t.Fatalf("expected rez2-env, got %s", spawnArgs.Program)
	}
	want := []string{"pkgA", "pkgB", "--", "execcomp", "cfg.json"}
	if len(spawnArgs.Args) != len(want) {
		t.Fatalf("expected args %v, got %v", want, spawnArgs.Args)
	}
	for i, w := range want {
		if spawnArgs.Args[i] != w {
			t.Fatalf("expected args %v, got %v", want, spawnArgs.Args)
		}
	}
}

func TestBuildExecConfigFields(t *testing.T) {
	addr := testAddress()
	def := map[string]any{
		"requirements": map[string]any{
			"resources": map[string]any{"logLevel": 2.0},
		},
	}
	cfg := buildExecConfig(addr, "comp", def, "/tmp/comp.ipc")

	if cfg["sessionId"] != addr.Session.String() {
		t.Fatalf("expected sessionId %s, got %v", addr.Session.String(), cfg["sessionId"])
	}
	if cfg["compId"] != addr.Computation.String() {
		t.Fatalf("expected compId %s, got %v", addr.Computation.String(), cfg["compId"])
	}
	if cfg["ipc"] != "/tmp/comp.ipc" {
		t.Fatalf("expected ipc /tmp/comp.ipc, got %v", cfg["ipc"])
	}
	if cfg["logLevel"] != 2 {
		t.Fatalf("expected logLevel 2, got %v", cfg["logLevel"])
	}
	config, ok := cfg["config"].(map[string]any)
	if !ok {
		t.Fatalf("expected config to be an object, got %T", cfg["config"])
	}
	comp, ok := config["comp"].(map[string]any)
	if !ok {
		t.Fatalf("expected config[\"comp\"] to be an object, got %T", config["comp"])
	}
	if comp["computationId"] != addr.Computation.String() {
		t.Fatalf("expected computationId %s, got %v", addr.Computation.String(), comp["computationId"])
	}
}

func containsVar(env []string, want string) bool {
	for _, v := range env {
		if v == want {
			return true
		}
	}
	return false
}
