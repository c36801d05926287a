package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/jmossahebi/jello2/syncer"
)

const alertBuffer = 8

type streamClient struct {
	// state is a one-slot doorbell; the handler reads the current tree
	// when it rings, so bursts of renders collapse into one frame.
	state  chan struct{}
	alerts chan syncer.Alert
}

// Broker fans controller renders and alerts out to the connected event
// streams. Render and Alert are meant to be used as the controller hooks.
type Broker struct {
	mu   sync.Mutex
	subs map[*streamClient]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*streamClient]struct{})}
}

func (b *Broker) subscribe() *streamClient {
	sc := &streamClient{
		state:  make(chan struct{}, 1),
		alerts: make(chan syncer.Alert, alertBuffer),
	}
	b.mu.Lock()
	b.subs[sc] = struct{}{}
	b.mu.Unlock()
	return sc
}

func (b *Broker) unsubscribe(sc *streamClient) {
	b.mu.Lock()
	delete(b.subs, sc)
	b.mu.Unlock()
}

// Clients returns the number of connected streams.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Render signals every stream that the tree changed.
func (b *Broker) Render() {
	b.mu.Lock()
	for sc := range b.subs {
		select {
		case sc.state <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Alert forwards a user-facing notice. Streams that are not keeping up
// lose the alert rather than block the controller.
func (b *Broker) Alert(a syncer.Alert) {
	b.mu.Lock()
	for sc := range b.subs {
		select {
		case sc.alerts <- a:
		default:
		}
	}
	b.mu.Unlock()
}

func writeEvent(c echo.Context, flusher http.Flusher, event string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	w := c.Response()
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func streamState(boards Boards, broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		sc := broker.subscribe()
		defer broker.unsubscribe(sc)

		ctx := c.Request().Context()
		if err := writeEvent(c, flusher, "state", boards.State()); err != nil {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sc.state:
				if err := writeEvent(c, flusher, "state", boards.State()); err != nil {
					c.Logger().Error(err)
					return nil
				}
			case a := <-sc.alerts:
				if err := writeEvent(c, flusher, "alert", a); err != nil {
					c.Logger().Error(err)
					return nil
				}
			}
		}
	}
}
