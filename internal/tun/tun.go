// Package tun opens the host TUN interface that the tunnel loop reads from.
//
// Address, route and DNS configuration of the interface belong to the host and are
// not managed here.
package tun

import (
	"fmt"
	"log/slog"

	"github.com/songgao/water"
)

// Config selects the interface to open.
type Config struct {
	Name string // requested interface name, empty lets the kernel choose
	MTU  int
}

// Device is an open TUN interface. Each Read returns one IP packet.
type Device struct {
	ifce *water.Interface
	mtu  int
}

// Open creates or attaches to the TUN interface described by cfg.
func Open(cfg Config) (*Device, error) {
	wc := water.Config{DeviceType: water.TUN}
	applyPlatform(&wc, cfg)

	ifce, err := water.New(wc)
	if err != nil {
		return nil, fmt.Errorf("open tun %q: %w", cfg.Name, err)
	}
	slog.Info("tun device opened", "name", ifce.Name(), "mtu", cfg.MTU)
	return &Device{ifce: ifce, mtu: cfg.MTU}, nil
}

// Name returns the kernel name of the interface.
func (d *Device) Name() string { return d.ifce.Name() }

// MTU returns the configured MTU.
func (d *Device) MTU() int { return d.mtu }

func (d *Device) Read(p []byte) (int, error)  { return d.ifce.Read(p) }
func (d *Device) Write(p []byte) (int, error) { return d.ifce.Write(p) }

// Close releases the interface and unblocks a pending Read.
func (d *Device) Close() error { return d.ifce.Close() }
