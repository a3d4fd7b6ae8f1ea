package main

import (
	"testing"

	"github.com/portguard/portguard/internal/pgconfig"
)

func resetGenCliFlags() {
	genCliHasSid = false
	genCliServiceID = 0
	genCliTarget = ""
}

func TestCliRemoteSpecForwardFromTargetOnly(t *testing.T) {
	resetGenCliFlags()
	genCliTarget = "10.0.0.1:22"

	spec, err := cliRemoteSpec()
	if err != nil {
		t.Fatalf("cliRemoteSpec: %v", err)
	}
	if spec.Mode != pgconfig.ModeForward || spec.Addr != "10.0.0.1:22" {
		t.Fatalf("got %+v", spec)
	}
}

func TestCliRemoteSpecDynamicFromTargetOnly(t *testing.T) {
	resetGenCliFlags()
	genCliTarget = "socks5"

	spec, err := cliRemoteSpec()
	if err != nil {
		t.Fatalf("cliRemoteSpec: %v", err)
	}
	if spec.Mode != pgconfig.ModeDynamic {
		t.Fatalf("got %+v", spec)
	}
}

func TestCliRemoteSpecReverseVisitFromServiceIDOnly(t *testing.T) {
	resetGenCliFlags()
	genCliHasSid = true
	genCliServiceID = 42

	spec, err := cliRemoteSpec()
	if err != nil {
		t.Fatalf("cliRemoteSpec: %v", err)
	}
	if spec.Mode != pgconfig.ModeReverseVisit || spec.ServiceID != 42 {
		t.Fatalf("got %+v", spec)
	}
}

func TestCliRemoteSpecReverseRegisterFromBoth(t *testing.T) {
	resetGenCliFlags()
	genCliHasSid = true
	genCliServiceID = 7
	genCliTarget = "socks5"

	spec, err := cliRemoteSpec()
	if err != nil {
		t.Fatalf("cliRemoteSpec: %v", err)
	}
	if spec.Mode != pgconfig.ModeReverseRegister || spec.ServiceID != 7 || !spec.Dynamic {
		t.Fatalf("got %+v", spec)
	}
}

func TestCliRemoteSpecRequiresOneFlag(t *testing.T) {
	resetGenCliFlags()
	if _, err := cliRemoteSpec(); err == nil {
		t.Fatal("expected error when neither -t nor -s is set")
	}
}
