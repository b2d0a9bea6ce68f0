// Package engine adapts a serialized channel to ports.RemoteEngine.
package engine

import (
	"context"
	"fmt"

	"github.com/samirrijal/fleetmap/internal/core/codec"
	"github.com/samirrijal/fleetmap/internal/core/domain"
	"github.com/samirrijal/fleetmap/internal/core/ports"
)

// ChannelEngine encodes bridge calls with a codec and writes them to a channel.
type ChannelEngine struct {
	codec   *codec.Codec
	channel ports.Channel
}

// NewChannelEngine returns a RemoteEngine writing to ch.
func NewChannelEngine(c *codec.Codec, ch ports.Channel) *ChannelEngine {
	return &ChannelEngine{codec: c, channel: ch}
}

func (e *ChannelEngine) Initialize(ctx context.Context, apiKey string, region domain.Region) error {
	data, err := e.codec.EncodeInit(apiKey, region)
	if err != nil {
		return err
	}
	return e.write(ctx, data)
}

func (e *ChannelEngine) Execute(ctx context.Context, cmd domain.Command) error {
	data, err := e.codec.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return e.write(ctx, data)
}

func (e *ChannelEngine) write(ctx context.Context, data []byte) error {
	if err := e.channel.Send(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannel, err)
	}
	return nil
}
