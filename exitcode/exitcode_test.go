package exitcode

import "testing"

func TestNormalWording(t *testing.T) {
	if got := String(Normal, true); got != "exited normally" {
		t.Fatalf("expected 'exited normally', got %q", got)
	}
	if got := String(Normal, false); got != "exited unexpectedly with code 0" {
		t.Fatalf("unexpected wording for unexpected normal exit: %q", got)
	}
}

func TestKnownCodesHaveWords(t *testing.T) {
	codes := []int{
		InvalidCmdline, ConfigFileLoadError, ExecError, ComputationLoadError,
		ComputationGoTimeout, InitializationFailed, InvalidConfigData,
		ExceptionCaught, UnspecifiedError, Disconnected, InternalError,
	}
	for _, c := range codes {
		if got := String(c, false); got == "" {
			t.Fatalf("code %d produced empty string", c)
		}
	}
}

func TestUnknownCodeFallsBackToNumeric(t *testing.T) {
	if got := String(99, false); got != "exited with code 99" {
		t.Fatalf("unexpected fallback wording: %q", got)
	}
}
