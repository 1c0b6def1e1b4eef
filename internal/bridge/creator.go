package bridge

import (
	"github.com/danmuck/husk/internal/rpc"
	"github.com/danmuck/husk/internal/runtime"
)

// NewCreator assembles the bridge channel's connection creator: every
// accepted connection serves the skeleton and becomes the stub's live
// channel until it drops.
func NewCreator(rt *runtime.Runtime, skeleton *Skeleton, stub *HostStub) *rpc.ConnectionCreator {
	return rpc.NewConnectionCreator(rpc.CreatorConfig{
		Channel: "bridge",
		Runtime: rt,
		Factory: func(ch *rpc.Channel) rpc.Handler {
			stub.SetChannel(ch)
			return skeleton
		},
		OnDisconnect: stub.ClearChannel,
	})
}
