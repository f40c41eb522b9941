package tun

import "github.com/songgao/water"

func applyPlatform(wc *water.Config, cfg Config) {
	wc.Name = cfg.Name
}
