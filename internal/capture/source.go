package capture

import (
	"context"
	"fmt"

	"github.com/skypro1111/i2s-serial-bridge/internal/protocol"
)

// Source stands in for the capture peripheral: it delivers batches to the
// registered BatchFunc from a single goroutine until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, deliver BatchFunc) error
}

// Channels selects which word-clock phases produce words
type Channels uint8

const (
	ChannelsLeft   Channels = protocol.ChannelLeft
	ChannelsRight  Channels = protocol.ChannelRight
	ChannelsStereo Channels = protocol.ChannelStereo
)

// ParseChannels converts a configuration name into a channel selection
func ParseChannels(name string) (Channels, error) {
	switch name {
	case "left", "":
		return ChannelsLeft, nil
	case "right":
		return ChannelsRight, nil
	case "stereo":
		return ChannelsStereo, nil
	default:
		return ChannelsLeft, fmt.Errorf("unknown channel selection %q (want left, right or stereo)", name)
	}
}

func (c Channels) String() string {
	return protocol.ChannelString(uint8(c))
}

// PerFrame returns the number of words each word-clock frame yields
func (c Channels) PerFrame() int {
	if c == ChannelsStereo {
		return 2
	}
	return 1
}
