package reversetable

import (
	"context"
	"errors"
	"testing"

	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/pgconfig"
)

// fakeSession is a minimal muxsession.Session double for exercising the
// table's bookkeeping without a real yamux session underneath.
type fakeSession struct {
	done      chan struct{}
	closed    bool
	openCalls int
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (f *fakeSession) OpenStream(ctx context.Context) (muxsession.Stream, error) {
	f.openCalls++
	return nil, errors.New("fakeSession: OpenStream not implemented")
}

func (f *fakeSession) AcceptStream(ctx context.Context) (muxsession.Stream, error) {
	return nil, errors.New("fakeSession: AcceptStream not implemented")
}

func (f *fakeSession) Close() error {
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func TestRegisterBusyAndUnregister(t *testing.T) {
	tbl := New()
	sess1 := newFakeSession()
	target := pgconfig.RemoteSpec{Mode: pgconfig.ModeReverseRegister, Addr: "127.0.0.1:80"}

	if err := tbl.Register(1, sess1, target); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !tbl.IsRegistered(1) {
		t.Fatal("IsRegistered(1) = false after Register")
	}

	sess2 := newFakeSession()
	if err := tbl.Register(1, sess2, target); !errors.Is(err, ErrServiceIDBusy) {
		t.Fatalf("err = %v, want ErrServiceIDBusy", err)
	}

	got, ok := tbl.Target(1)
	if !ok || got.Addr != "127.0.0.1:80" {
		t.Fatalf("Target(1) = %+v, %v", got, ok)
	}

	tbl.Unregister(1, sess1)
	if tbl.IsRegistered(1) {
		t.Fatal("IsRegistered(1) = true after Unregister")
	}
	if !sess1.closed {
		t.Fatal("Unregister did not close the session")
	}
}

func TestUnregisterIgnoresStaleSession(t *testing.T) {
	tbl := New()
	sess1 := newFakeSession()
	sess2 := newFakeSession()
	target := pgconfig.RemoteSpec{Mode: pgconfig.ModeReverseRegister}

	tbl.Register(2, sess1, target)
	tbl.Unregister(2, sess1)
	tbl.Register(2, sess2, target)

	// Unregistering the old (already-replaced) session must be a no-op.
	tbl.Unregister(2, sess1)
	if !tbl.IsRegistered(2) {
		t.Fatal("stale Unregister removed the live entry")
	}
	if sess2.closed {
		t.Fatal("stale Unregister closed the live session")
	}
}

func TestOpenSubstreamNoSuchService(t *testing.T) {
	tbl := New()
	if _, err := tbl.OpenSubstream(context.Background(), 999); !errors.Is(err, ErrNoSuchService) {
		t.Fatalf("err = %v, want ErrNoSuchService", err)
	}
}

func TestOpenSubstreamDelegatesToSession(t *testing.T) {
	tbl := New()
	sess := newFakeSession()
	tbl.Register(5, sess, pgconfig.RemoteSpec{})

	_, err := tbl.OpenSubstream(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error from fakeSession.OpenStream")
	}
	if sess.openCalls != 1 {
		t.Fatalf("openCalls = %d, want 1", sess.openCalls)
	}
}

func TestActiveServices(t *testing.T) {
	tbl := New()
	tbl.Register(1, newFakeSession(), pgconfig.RemoteSpec{})
	tbl.Register(2, newFakeSession(), pgconfig.RemoteSpec{})

	ids := tbl.ActiveServices()
	if len(ids) != 2 {
		t.Fatalf("len(ActiveServices()) = %d, want 2", len(ids))
	}
}
