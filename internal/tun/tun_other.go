//go:build !linux

package tun

import "github.com/songgao/water"

// Interface naming is only honoured on Linux.
func applyPlatform(_ *water.Config, _ Config) {}
