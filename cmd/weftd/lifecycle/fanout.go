package lifecycle

import (
	"context"

	"github.com/weftworks/weft/common/sdk"
)

// Fanout publishes every event to each wrapped publisher in order.
type Fanout []sdk.Publisher

// NewFanout combines publishers, dropping nils.
func NewFanout(publishers ...sdk.Publisher) Fanout {
	out := make(Fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, e *sdk.Event) {
	for _, p := range f {
		p.Publish(ctx, e)
	}
}
