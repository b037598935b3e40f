package separation

import (
	"regexp"
	"strconv"
)

// Tool progress is reported just shy of complete; the jump to 100 is the
// orchestrator's completion signal.
const maxToolPercent = 99.0

var (
	percentPattern = regexp.MustCompile(`(\d{1,3})%\|`)
	bagPattern     = regexp.MustCompile(`bag of (\d+) models`)
)

// progressParser folds demucs progress bars into one 0-100 scale. Ensemble
// variants run several models in sequence and each restarts its bar at zero,
// so a restart advances the completed-model count instead of moving the
// folded percentage backwards.
type progressParser struct {
	models    int
	completed int
	lastRaw   float64
}

func newProgressParser() *progressParser {
	return &progressParser{models: 1}
}

func (p *progressParser) observe(line string) (float64, bool) {
	if m := bagPattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			p.models = n
		}
		return 0, false
	}
	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	raw, err := strconv.ParseFloat(m[1], 64)
	if err != nil || raw < 0 || raw > 100 {
		return 0, false
	}
	if raw < p.lastRaw && p.completed < p.models-1 {
		p.completed++
	}
	p.lastRaw = raw
	overall := (float64(p.completed)*100 + raw) / float64(p.models)
	if overall > maxToolPercent {
		overall = maxToolPercent
	}
	return overall, true
}
