package tun

import (
	"io"
	"os"
	"testing"
)

var _ io.ReadWriteCloser = (*Device)(nil)

func TestOpenRequiresPrivileges(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; opening a real interface would modify the host")
	}
	if _, err := Open(Config{Name: "hgtest0"}); err == nil {
		t.Fatal("Open succeeded without privileges")
	}
}
