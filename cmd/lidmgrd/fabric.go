package main

import (
	"context"
	"errors"

	"github.com/libopensm/lidmgrd/lidmgr"
)

var errNoFabric = errors.New("no subnet management client configured")

// noFabric is a placeholder lidmgr.Discovery/lidmgr.Transport pair used
// when lidmgrd is run without a real subnet management client wired in.
// The subnet sweep/discovery subsystem and the SMP transport are both
// out of this repository's scope (they belong to the layer that walks
// the physical fabric and speaks the wire protocol); a real deployment
// replaces this with an adaptor over that layer.
type noFabric struct{}

func (noFabric) SMPort(_ context.Context) (*lidmgr.Port, error) {
	return nil, errNoFabric
}

func (noFabric) Ports(_ context.Context) ([]*lidmgr.Port, error) {
	return nil, nil
}

func (noFabric) Set(_ context.Context, _ *lidmgr.Port, _ lidmgr.PortInfo) error {
	return nil
}
