package storelink

import (
	"errors"

	"github.com/rmacdonaldsmith/storemesh-go/internal/eventbus"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

var (
	// ErrLinkClosed is returned for commands issued after a forced disconnect
	ErrLinkClosed = errors.New("link is closed")
	// ErrNoKeys is returned when Delete is called without keys
	ErrNoKeys = errors.New("at least one key is required")
)

const messageEvent = "message"

// linkEvents delivers raw lifecycle events and inbound messages of one link
// in order on the link's own bus goroutine.
type linkEvents struct {
	bus *eventbus.Bus
}

func newLinkEvents() linkEvents {
	return linkEvents{bus: eventbus.New()}
}

func (e linkEvents) on(event storelink.Event, h storelink.EventHandler) {
	if h == nil {
		return
	}
	e.bus.On(string(event), func(args ...any) {
		var err error
		if len(args) > 0 {
			err, _ = args[0].(error)
		}
		h(err)
	})
}

func (e linkEvents) onMessage(h storelink.MessageHandler) {
	if h == nil {
		return
	}
	e.bus.On(messageEvent, func(args ...any) {
		h(args[0].(string), args[1].(string))
	})
}

func (e linkEvents) emit(event storelink.Event) {
	e.bus.Emit(string(event))
}

func (e linkEvents) emitError(err error) {
	e.bus.Emit(string(storelink.EventError), err)
}

func (e linkEvents) emitMessage(channel, payload string) {
	e.bus.Emit(messageEvent, channel, payload)
}

func (e linkEvents) close() {
	e.bus.Close()
}
