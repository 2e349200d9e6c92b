package logging

import "testing"

func TestNilLoggerIsNoOp(t *testing.T) {
	var l *Logger
	// None of these should panic on a nil receiver.
	l.Print("x")
	l.Printf("%d", 1)
	l.Info("x")
	l.Debug("x")
	l.Warn(nil)
	l.Error(nil)
	if _, ok := l.DebugWriter().(interface{ Write([]byte) (int, error) }); !ok {
		t.Fatal("DebugWriter on nil logger should still return a valid io.Writer")
	}
}

func TestSubloggerPrefixNesting(t *testing.T) {
	root := New(LevelDebug)
	child := root.Sublogger("pipeline").Sublogger("darwin")
	if child.prefix != "pipeline.darwin" {
		t.Fatalf("unexpected sublogger prefix: %q", child.prefix)
	}
}

func TestLevelGating(t *testing.T) {
	l := New(LevelError)
	if l.level >= LevelDebug {
		t.Fatal("expected error-level logger to gate out debug messages")
	}
}
