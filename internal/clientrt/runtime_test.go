package clientrt

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
)

func baseConfig() patch.ClientConfig {
	return patch.ClientConfig{
		ServerHost:   "relay.example.com",
		ServerPort:   9443,
		ServerPubKey: [32]byte{1},
		ClientPubKey: [32]byte{2},
		ClientPriKey: [32]byte{3},
		Remote:       pgconfig.RemoteSpec{Mode: pgconfig.ModeForward, Addr: "10.0.0.1:22"},
		LocalPort:    1080,
	}
}

func TestServerAddrUsesEmbeddedByDefault(t *testing.T) {
	r := New(baseConfig(), Overrides{}, zerolog.Nop())
	if got := r.serverAddr(); got != "relay.example.com:9443" {
		t.Fatalf("serverAddr() = %q", got)
	}
}

func TestServerAddrOverride(t *testing.T) {
	r := New(baseConfig(), Overrides{ServerAddr: "override.example.com:1234"}, zerolog.Nop())
	if got := r.serverAddr(); got != "override.example.com:1234" {
		t.Fatalf("serverAddr() = %q", got)
	}
}

func TestLocalPortOverride(t *testing.T) {
	r := New(baseConfig(), Overrides{}, zerolog.Nop())
	if got := r.localPort(); got != 1080 {
		t.Fatalf("localPort() = %d, want 1080", got)
	}

	r2 := New(baseConfig(), Overrides{LocalPort: 9999}, zerolog.Nop())
	if got := r2.localPort(); got != 9999 {
		t.Fatalf("localPort() = %d, want 9999", got)
	}
}

func TestServerStaticKeyOverride(t *testing.T) {
	r := New(baseConfig(), Overrides{}, zerolog.Nop())
	if got := r.serverStaticKey(); got != ([32]byte{1}) {
		t.Fatalf("serverStaticKey() = %x", got)
	}

	override := [32]byte{9, 9}
	r2 := New(baseConfig(), Overrides{ServerPubKey: &override}, zerolog.Nop())
	if got := r2.serverStaticKey(); got != override {
		t.Fatalf("serverStaticKey() = %x, want %x", got, override)
	}
}

func TestControlMessageSelection(t *testing.T) {
	cases := []struct {
		mode pgconfig.Mode
		tag  byte
	}{
		{pgconfig.ModeForward, 0},
		{pgconfig.ModeDynamic, 1},
		{pgconfig.ModeReverseVisit, 3},
	}
	for _, c := range cases {
		cfg := baseConfig()
		cfg.Remote.Mode = c.mode
		r := New(cfg, Overrides{}, zerolog.Nop())
		msg := r.controlMessage()
		if byte(msg.Tag) != c.tag {
			t.Errorf("mode %v: controlMessage().Tag = %d, want %d", c.mode, msg.Tag, c.tag)
		}
	}
}
