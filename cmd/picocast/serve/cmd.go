package serve

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/picocast/cmd/picocast/subcmd"
	"github.com/temoto/picocast/internal/state"
)

var Mod = subcmd.Mod{Name: "serve", Usage: "announce and serve device sessions until SIGINT/SIGTERM", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Server.Stat().Publish("picocast.session")

	if err := g.Start(); err != nil {
		return errors.Annotate(err, "start")
	}
	subcmd.SdNotify(daemon.SdNotifyReady)

	sigctx, cancel := subcmd.SignalContext(ctx)
	defer cancel()
	select {
	case <-sigctx.Done():
		g.Log.Infof("signal received, stopping")
	case <-g.Alive.StopChan():
	}
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("stat %s", g.Stat())
	if !g.StopWait(10 * time.Second) {
		return errors.Timeoutf("graceful stop")
	}
	return nil
}
