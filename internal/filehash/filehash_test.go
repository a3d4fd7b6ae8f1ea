package filehash

import (
	"errors"
	"net"
	"testing"
)

func TestChallengeDeclareMatch(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	want := []byte{1, 2, 3, 4, 5}
	errCh := make(chan error, 1)
	go func() { errCh <- Declare(client, want) }()

	if err := Challenge(server, want); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Declare: %v", err)
	}
}

func TestChallengeDeclareMismatch(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	want := []byte{1, 2, 3}
	wrong := []byte{9, 9, 9}
	errCh := make(chan error, 1)
	go func() { errCh <- Declare(client, wrong) }()

	err := Challenge(server, want)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
	<-errCh
}

func TestChallengeSkipsWhenWantEmpty(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- Declare(client, []byte{0xff}) }()

	if err := Challenge(server, nil); err != nil {
		t.Fatalf("Challenge with nil want: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Declare: %v", err)
	}
}

func TestDeclareDifferentLengthMismatch(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	want := []byte{1, 2, 3, 4}
	short := []byte{1, 2, 3}
	errCh := make(chan error, 1)
	go func() { errCh <- Declare(client, short) }()

	err := Challenge(server, want)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
	<-errCh
}
