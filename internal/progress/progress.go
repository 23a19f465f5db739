package progress

import (
	"fmt"
	"sync"
)

// Update is a structured progress report from a long-running step.
type Update struct {
	Percent     int
	Description string
}

// Message renders the update the way it is shown to users, e.g. "Separating drums... 42%".
func (u Update) Message() string {
	if u.Description == "" {
		return fmt.Sprintf("%d%%", u.Percent)
	}
	return fmt.Sprintf("%s %d%%", u.Description, u.Percent)
}

// Func receives progress updates. Producers call it for every step they make;
// throttling is left to the consumer.
type Func func(Update)

// Nop discards updates.
func Nop(Update) {}

// Emit calls fn if it is set.
func (fn Func) Emit(percent int, description string) {
	if fn != nil {
		fn(Update{Percent: percent, Description: description})
	}
}

// Dedup returns a Func that forwards an update's message to sink only when it
// differs from the last message forwarded.
func Dedup(sink func(message string)) Func {
	var (
		mu   sync.Mutex
		last string
	)
	return func(u Update) {
		msg := u.Message()
		mu.Lock()
		if msg == last {
			mu.Unlock()
			return
		}
		last = msg
		mu.Unlock()
		sink(msg)
	}
}

// Percent returns done/total as an integer percentage clamped to [0, 100].
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	return max(0, min(100, p))
}
