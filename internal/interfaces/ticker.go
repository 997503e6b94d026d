package interfaces

import "breakout-bot/internal/types"

// TickListener consumes last-traded-price updates for a subscribed token.
// Implementations serialize internally; the registry may call Tick from the
// streaming goroutine at any time.
type TickListener interface {
	Tick(t types.Tick)
}
