package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(PhaseMarshal, KindCycle).
		Path("root", "items", "0").
		Detail("cyclic structure").
		Build()

	msg := err.Error()
	if !strings.Contains(msg, "[marshal]") {
		t.Errorf("expected phase in message, got %q", msg)
	}
	if !strings.Contains(msg, "cycle") {
		t.Errorf("expected kind in message, got %q", msg)
	}
	if !strings.Contains(msg, "root.items.0") {
		t.Errorf("expected path in message, got %q", msg)
	}
	if !strings.Contains(msg, "cyclic structure") {
		t.Errorf("expected detail in message, got %q", msg)
	}
}

func TestErrorCauseChain(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(PhaseDispatch, KindHostCallback, cause, "handler failed")

	if !stderrors.Is(err, cause) {
		t.Error("expected unwrap to reach the cause")
	}
	if !strings.Contains(err.Error(), "root cause") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestErrorIsMatchesPhaseAndKind(t *testing.T) {
	err := NotConfigured("normalize")

	if !stderrors.Is(err, &Error{Phase: PhaseModule, Kind: KindNotConfigured}) {
		t.Error("expected match on phase and kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseEval, Kind: KindNotConfigured}) {
		t.Error("expected mismatch on different phase")
	}
}

func TestScriptErrorMessage(t *testing.T) {
	err := Script("boom", "    at f (x.js:3)")
	if err.Error() != "boom\n    at f (x.js:3)" {
		t.Fatalf("unexpected rendering %q", err.Error())
	}

	bare := Script("boom", "")
	if bare.Error() != "boom" {
		t.Fatalf("unexpected rendering %q", bare.Error())
	}
}

func TestScriptErrorIs(t *testing.T) {
	err := Script("boom", "")

	if !stderrors.Is(err, &ScriptError{}) {
		t.Error("empty target should match any script error")
	}
	if !stderrors.Is(err, &ScriptError{Message: "boom"}) {
		t.Error("same message should match")
	}
	if stderrors.Is(err, &ScriptError{Message: "other"}) {
		t.Error("different message should not match")
	}
	if stderrors.Is(err, &ScriptError{Timeout: true}) {
		t.Error("non-timeout error should not match timeout target")
	}

	timeout := TimeoutError()
	if !stderrors.Is(timeout, &ScriptError{Timeout: true}) {
		t.Error("timeout error should match timeout target")
	}
}
