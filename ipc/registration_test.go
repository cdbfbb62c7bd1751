package ipc

import (
	"bytes"
	"testing"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

func TestRegistrationRoundTrip(t *testing.T) {
	addr := address.New(id.New(), id.New(), id.New())
	reg := NewRegistration(RegistrationExecutor, addr)

	var buf bytes.Buffer
	if err := reg.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() != registrationDataSize {
		t.Fatalf("expected %d bytes on the wire, got %d", registrationDataSize, buf.Len())
	}

	got, err := ReadRegistration(&buf)
	if err != nil {
		t.Fatalf("ReadRegistration: %v", err)
	}
	if got.Type != RegistrationExecutor {
		t.Fatalf("expected type %v, got %v", RegistrationExecutor, got.Type)
	}
	if got.Address() != addr {
		t.Fatalf("expected address %v, got %v", addr, got.Address())
	}
	if got.APIVersionMajor != apiVersionMajor {
		t.Fatalf("expected major version %d, got %d", apiVersionMajor, got.APIVersionMajor)
	}
}

func TestReadRegistrationRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, registrationDataSize))
	if _, err := ReadRegistration(buf); err == nil {
		t.Fatal("expected an error for an all-zero (bad magic) header")
	}
}

func TestReadRegistrationRejectsWrongMajorVersion(t *testing.T) {
	addr := address.New(id.New(), id.New(), id.New())
	reg := NewRegistration(RegistrationNode, addr)
	reg.APIVersionMajor = apiVersionMajor + 1

	var buf bytes.Buffer
	if err := reg.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := ReadRegistration(&buf); err == nil {
		t.Fatal("expected an error for an incompatible major version")
	}
}
