package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk configuration tomlConfig in
// dtn7-go/cmd/dtnd/configuration.go models, scaled down to what a dial
// smoke-test needs: the peer addresses to race and the PSK cache size.
type fileConfig struct {
	Peer             []peerConf `toml:"peer"`
	PSKCacheCapacity int        `toml:"psk-cache-capacity"`
	HappyEyeballs    bool       `toml:"happy-eyeballs"`
	Hostname         string     `toml:"hostname"`
}

type peerConf struct {
	Address string `toml:"address"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{PSKCacheCapacity: 128, HappyEyeballs: true}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}
