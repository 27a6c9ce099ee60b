package market

import "time"

// ChangeWindow returns the kline window whose oldest open is the reference
// price for the timeframe's percent change
func ChangeWindow(tf Timeframe) Window {
	switch tf {
	case TF5m:
		return Window{Interval: "1", Limit: 5}
	case TF15m:
		return Window{Interval: "1", Limit: 15}
	case TF1h:
		return Window{Interval: "1", Limit: 60}
	case TF4h:
		return Window{Interval: "15", Limit: 16}
	case TF1d:
		return Window{Interval: "60", Limit: 24}
	default:
		return Window{}
	}
}

// VolumeWindow returns the window of completed candles for the timeframe,
// ending one millisecond before the current bucket opened
func VolumeWindow(tf Timeframe, now time.Time) Window {
	w := Window{End: Cutoff(tf, now)}
	switch tf {
	case TF5m:
		w.Interval, w.Limit = "1", 5
	case TF15m:
		w.Interval, w.Limit = "5", 3
	case TF1h:
		w.Interval, w.Limit = "15", 4
	case TF4h:
		w.Interval, w.Limit = "60", 4
	case TF1d:
		w.Interval, w.Limit = "D", 1
	}
	return w
}

// DailyWindow returns the single completed daily candle ending at cutoff
func DailyWindow(cutoff time.Time) Window {
	return Window{Interval: "D", Limit: 1, End: cutoff}
}

// Cutoff is the last millisecond of the previous complete bucket
func Cutoff(tf Timeframe, now time.Time) time.Time {
	now = now.UTC()
	if tf == TF1d {
		return StartOfDay(now).Add(-time.Millisecond)
	}
	d := tf.Duration()
	if d <= 0 {
		return now
	}
	return now.Truncate(d).Add(-time.Millisecond)
}

// StartOfDay returns midnight UTC of t's day
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
