package answer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// figurePattern matches figures such as 10,000, 1.5 or 30, with an
// optional Korean magnitude unit (30만, 5천, 1억).
var figurePattern = regexp.MustCompile(`(\d+(?:[.,]\d+)*)(?:\s*(억|만|천))?`)

var unitScale = map[string]float64{
	"":  1,
	"천": 1e3,
	"만": 1e4,
	"억": 1e8,
}

// Figures returns the distinct figures of text in order of first
// appearance, as plain values: thousands separators are removed and
// magnitude units are multiplied out, so 10,000원, 10000 and 1만 원 are all
// "10000". Adjacent unit groups such as 1만 5천 add up to one figure.
func Figures(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(f string) {
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	var (
		sum     float64
		lastEnd = -1
		// lastScale is the unit of the group being summed; 0 when none.
		lastScale float64
	)
	flush := func() {
		if lastScale > 0 {
			add(formatFigure(sum))
		}
		sum, lastScale = 0, 0
	}

	for _, m := range figurePattern.FindAllStringSubmatchIndex(text, -1) {
		digits := strings.ReplaceAll(text[m[2]:m[3]], ",", "")
		unit := ""
		if m[4] >= 0 {
			unit = text[m[4]:m[5]]
		}
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			// dates and versions such as 2024.01.15
			flush()
			add(digits)
			continue
		}
		scale := unitScale[unit]

		joined := lastScale > 0 && unit != "" && scale < lastScale &&
			strings.TrimSpace(text[lastEnd:m[0]]) == ""
		if !joined {
			flush()
		}
		if unit == "" {
			add(formatFigure(v))
			lastEnd = m[1]
			continue
		}
		sum += v * scale
		lastScale = scale
		lastEnd = m[1]
	}
	flush()
	return out
}

func formatFigure(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

// MissingFigures lists the figures of raw that rewritten does not contain.
// Figures are compared by value, so a rewrite may change how an amount is
// written.
func MissingFigures(raw, rewritten string) []string {
	have := make(map[string]struct{})
	for _, f := range Figures(rewritten) {
		have[f] = struct{}{}
	}
	var missing []string
	for _, f := range Figures(raw) {
		if _, ok := have[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
