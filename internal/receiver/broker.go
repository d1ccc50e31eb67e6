package receiver

import (
	"sync"

	"github.com/SB-IM/camlink/internal/session"
)

const subscriberBuffer = 32

// broker fans connection events out to subscribers. Slow subscribers miss events.
type broker struct {
	mu   sync.Mutex
	subs map[chan session.Event]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[chan session.Event]struct{})}
}

func (b *broker) subscribe() (<-chan session.Event, func()) {
	ch := make(chan session.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

func (b *broker) publish(e session.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// forward publishes events until the stream closes.
func (b *broker) forward(events <-chan session.Event) {
	for e := range events {
		b.publish(e)
	}
}
