package sim

import (
	"context"
	"fmt"

	"github.com/temoto/picocast/cmd/picocast/subcmd"
	"github.com/temoto/picocast/internal/devsim"
	"github.com/temoto/picocast/internal/state"
	"github.com/temoto/picocast/wire"
)

var Mod = subcmd.Mod{Name: "sim", Usage: "run simulated sensor device", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	d := devsim.New(devsim.Options{
		Log:          g.Log,
		DiscoverAddr: fmt.Sprintf(":%d", config.Network.UdpPort),
		Framing:      wire.Framing(config.Network.Framing),
		ReadLimit:    config.Network.ReadLimit,
	})
	sigctx, cancel := subcmd.SignalContext(ctx)
	defer cancel()
	err := d.Run(sigctx)
	g.Log.Infof("sim stat %s", d.Stat())
	return err
}
