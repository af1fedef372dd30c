package probe

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ServerTimingHeader carries the server-side processing time of a response.
const ServerTimingHeader = "Server-Timing"

var ErrServerTiming = errors.New("invalid server timing header")

// ParseServerTiming returns the processing delay reported by the server, in
// milliseconds on the wire. The dur parameter of the last entry carrying one
// wins, e.g. "cfRequestDuration;dur=12.5". Without a usable dur parameter the
// value is split on ',' and '=' and the last numeric field is used.
func ParseServerTiming(h http.Header) (time.Duration, error) {
	values := h.Values(ServerTimingHeader)
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: header missing", ErrServerTiming)
	}
	raw := strings.Join(values, ",")

	entries := strings.Split(raw, ",")
	for i := len(entries) - 1; i >= 0; i-- {
		for _, param := range strings.Split(entries[i], ";") {
			k, v, ok := strings.Cut(param, "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(k), "dur") {
				continue
			}
			if ms, ok := parseMillis(strings.Trim(strings.TrimSpace(v), `"`)); ok {
				return ms, nil
			}
		}
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '=' })
	for i := len(fields) - 1; i >= 0; i-- {
		if ms, ok := parseMillis(strings.TrimSpace(fields[i])); ok {
			return ms, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrServerTiming, raw)
}

func parseMillis(s string) (time.Duration, bool) {
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil || ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// NetworkTime isolates transit time from server processing time. The sample
// is valid only when elapsed strictly exceeds serverDelay.
func NetworkTime(elapsed, serverDelay time.Duration) (time.Duration, bool) {
	if elapsed <= serverDelay {
		return 0, false
	}
	return elapsed - serverDelay, true
}

// Throughput converts a transfer of n bytes over d into megabits per second.
func Throughput(n int64, d time.Duration) float64 {
	return float64(n) * 8 / d.Seconds() / 1e6
}
