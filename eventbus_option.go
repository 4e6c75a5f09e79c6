package analyst

import "github.com/ZanzyTHEbar/dragonscale-analyst/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(a *Analyst) {
		a.eventBus = bus
	}
}
