package main

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v2"

	"github.com/libopensm/lidmgrd/lidmgr"
)

// config is the on-disk shape of lidmgrd's YAML config file, mirroring
// lidmgr.Options field for field plus the process-level settings
// (storage backend selection, listen addresses, sweep interval) that
// live outside the allocator's own contract.
type config struct {
	LMC                     uint8  `yaml:"lmc"`
	MaxUnicastLID           uint16 `yaml:"max_unicast_lid"`
	ReassignLIDs            bool   `yaml:"reassign_lids"`
	HonorGUID2LIDFile       bool   `yaml:"honor_guid2lid_file"`
	ExitOnFatal             bool   `yaml:"exit_on_fatal"`
	NoClientsRereg          bool   `yaml:"no_clients_rereg"`
	MKey                    uint64 `yaml:"m_key"`
	SubnetPrefix            uint64 `yaml:"subnet_prefix"`
	MKeyLeasePeriod         uint16 `yaml:"m_key_lease_period"`
	SubnetTimeout           uint8  `yaml:"subnet_timeout"`
	LocalPhyErrorsThreshold uint8  `yaml:"local_phy_errors_threshold"`
	OverrunErrorsThreshold  uint8  `yaml:"overrun_errors_threshold"`

	Backend      string `yaml:"backend"`
	StoragePath  string `yaml:"storage_path"`
	SweepSeconds int    `yaml:"sweep_interval_seconds"`
	ListenAddr   string `yaml:"listen_addr"`
}

func defaultConfig() config {
	return config{
		LMC:                     0,
		MaxUnicastLID:           lidmgr.UcastEnd,
		HonorGUID2LIDFile:       true,
		ExitOnFatal:             false,
		MKeyLeasePeriod:         60,
		SubnetTimeout:           18,
		LocalPhyErrorsThreshold: 5,
		OverrunErrorsThreshold:  5,
		Backend:                 "file",
		StoragePath:             "/var/lib/lidmgrd",
		SweepSeconds:            15,
		ListenAddr:              "127.0.0.1:7814",
	}
}

// loadConfig reads path (if non-empty) over the defaults, mirroring the
// precedence LXD's own daemon config loading gives a config file over
// built-in defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("Failed reading config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("Failed parsing config file %q: %w", path, err)
	}

	return cfg, nil
}

func (c config) toOptions() lidmgr.Options {
	return lidmgr.Options{
		LMC:                     c.LMC,
		MaxUnicastLID:           c.MaxUnicastLID,
		ReassignLIDs:            c.ReassignLIDs,
		HonorGUID2LIDFile:       c.HonorGUID2LIDFile,
		ExitOnFatal:             c.ExitOnFatal,
		NoClientsRereg:          c.NoClientsRereg,
		MKey:                    c.MKey,
		SubnetPrefix:            c.SubnetPrefix,
		MKeyLeasePeriod:         c.MKeyLeasePeriod,
		SubnetTimeout:           c.SubnetTimeout,
		LocalPhyErrorsThreshold: c.LocalPhyErrorsThreshold,
		OverrunErrorsThreshold:  c.OverrunErrorsThreshold,
	}
}
