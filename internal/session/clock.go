package session

import (
	"strconv"
	"strings"

	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// parseTimeControl turns a "minutes+increment" string ("5+3", "15+10",
// "3+0") into the starting clock budget and per-move increment in
// milliseconds. Unparsable strings are a fatal input error for session
// creation.
func parseTimeControl(tc string) (baseMs, incMs int64, err error) {
	parts := strings.Split(strings.TrimSpace(tc), "+")
	if len(parts) != 2 {
		return 0, 0, arenadto.Validation("time control must look like \"5+3\"")
	}
	minutes, merr := strconv.Atoi(strings.TrimSpace(parts[0]))
	seconds, serr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if merr != nil || serr != nil || minutes <= 0 || seconds < 0 {
		return 0, 0, arenadto.Validation("invalid time control: " + tc)
	}
	return int64(minutes) * 60_000, int64(seconds) * 1000, nil
}
