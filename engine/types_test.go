package engine

import "testing"

func TestHandleNullability(t *testing.T) {
	if !ValuePtr(0).IsNull() {
		t.Error("zero value handle should be null")
	}
	if ValuePtr(0x40).IsNull() {
		t.Error("non-zero value handle should not be null")
	}
	if !ContextPtr(0).IsNull() || !RuntimePtr(0).IsNull() {
		t.Error("zero context/runtime handles should be null")
	}
}

func TestMessageTagNames(t *testing.T) {
	cases := map[MessageTag]string{
		MsgMethod:           "METHOD",
		MsgModuleIsBytecode: "MODULE_IS_BYTECODE",
		MsgModuleBytecode:   "MODULE_BYTECODE",
		MsgModuleNormalize:  "MODULE_NORMALIZE",
		MsgModule:           "MODULE",
		MsgPromiseTrack:     "PROMISE_TRACK",
		MsgFreeObject:       "FREE_OBJECT",
		MessageTag(99):      "UNKNOWN",
	}
	for tag, want := range cases {
		if got := tag.String(); got != want {
			t.Errorf("tag %d: got %q, want %q", tag, got, want)
		}
	}
}

func TestKindNames(t *testing.T) {
	if KindPromise.String() != "promise" {
		t.Errorf("got %q", KindPromise.String())
	}
	if Kind(200).String() == "" {
		t.Error("unknown kind should still render")
	}
}

func TestEvalFlags(t *testing.T) {
	flags := EvalModule | EvalCompileOnly
	if flags&EvalModule == 0 || flags&EvalCompileOnly == 0 {
		t.Error("flags should combine")
	}
	if EvalGlobal != 0 {
		t.Error("global evaluation is the zero flag set")
	}
}
