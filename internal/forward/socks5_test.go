package forward

import "testing"

func TestNewSocks5ServerNoAuth(t *testing.T) {
	srv, err := NewSocks5Server("")
	if err != nil {
		t.Fatalf("NewSocks5Server: %v", err)
	}
	if srv == nil {
		t.Fatal("nil server")
	}
}

func TestNewSocks5ServerUserPass(t *testing.T) {
	srv, err := NewSocks5Server("s3cret")
	if err != nil {
		t.Fatalf("NewSocks5Server: %v", err)
	}
	if srv == nil {
		t.Fatal("nil server")
	}
}
