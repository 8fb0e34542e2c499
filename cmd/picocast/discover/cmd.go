package discover

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/picocast/cmd/picocast/subcmd"
	"github.com/temoto/picocast/internal/announce"
	"github.com/temoto/picocast/internal/state"
)

var Mod = subcmd.Mod{Name: "discover", Usage: "print received announcements until SIGINT", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	addr := fmt.Sprintf(":%d", config.Network.UdpPort)
	l, err := announce.Listen(ctx, addr, g.Log)
	if err != nil {
		return err
	}
	defer l.Close()
	g.Log.Infof("listening addr=%s", l.Addr())

	sigctx, cancel := subcmd.SignalContext(ctx)
	defer cancel()
	for sigctx.Err() == nil {
		a, from, err := l.Next(time.Now().Add(time.Second))
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return errors.Trace(err)
		}
		fmt.Printf("from=%s endpoint=%s iter=%d\n", from, a.Addr(), a.Iter)
	}
	return nil
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := errors.Cause(err).(timeout)
	return ok && t.Timeout()
}
