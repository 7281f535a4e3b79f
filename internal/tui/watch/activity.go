package watch

import (
	"fmt"
	"strings"
	"time"
)

const activityWindow = 20

var meterLevels = []rune("▁▂▃▄▅▆▇█")

// Activity counts events per second over a short window. The model calls
// Advance once per tick; the header draws it as a sparkline.
type Activity struct {
	buckets [activityWindow]int
	head    int
	ticks   int
	last    time.Time
}

// Record counts one event in the current second.
func (a *Activity) Record(at time.Time) {
	a.buckets[a.head]++
	if at.After(a.last) {
		a.last = at
	}
}

// Advance opens a new one-second bucket, dropping the oldest.
func (a *Activity) Advance() {
	a.head = (a.head + 1) % activityWindow
	a.buckets[a.head] = 0
	a.ticks++
}

func (a *Activity) LastEvent() time.Time {
	return a.last
}

// Rate is events per second over the seconds observed so far.
func (a *Activity) Rate() float64 {
	span := min(a.ticks+1, activityWindow)
	total := 0
	for _, n := range a.buckets {
		total += n
	}
	return float64(total) / float64(span)
}

// Sparkline renders the window oldest first, scaled to its busiest second.
// Idle seconds are blank.
func (a *Activity) Sparkline() string {
	peak := 0
	for _, n := range a.buckets {
		peak = max(peak, n)
	}
	var b strings.Builder
	for i := 1; i <= activityWindow; i++ {
		n := a.buckets[(a.head+i)%activityWindow]
		if n == 0 || peak == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(meterLevels[(n*len(meterLevels)-1)/peak])
	}
	return b.String()
}

// Render draws the sparkline and rate. The heartbeat glyph flips each tick
// while the stream is connected.
func (a *Activity) Render(theme Theme, connected bool) string {
	beat := "○"
	if connected && a.ticks%2 == 0 {
		beat = "●"
	}
	return fmt.Sprintf("%s %s %s",
		theme.Highlight.Render(beat),
		theme.Meter.Render(a.Sparkline()),
		theme.Dim.Render(fmt.Sprintf("%.1f/s", a.Rate())),
	)
}
