package media

// Policy decides which protection levels an item of a given kind requires
// before it counts as fully processed. Videos defaulting to a single "mid"
// level while images require all three is a cost tradeoff external to the
// mechanism, so it stays configurable rather than hard-coded.
type Policy struct {
	ImageLevels []Level
	VideoLevels []Level
}

// DefaultPolicy returns the standing dataset policy: images need low, mid,
// and high; videos need only mid.
func DefaultPolicy() Policy {
	return Policy{
		ImageLevels: []Level{LevelLow, LevelMid, LevelHigh},
		VideoLevels: []Level{LevelMid},
	}
}

// RequiredLevels returns the levels an item of the given kind must have.
func (p Policy) RequiredLevels(kind Kind) []Level {
	if kind == KindVideo {
		return p.VideoLevels
	}
	return p.ImageLevels
}

// Satisfied reports whether the set of confirmed levels meets the
// requirement for the kind.
func (p Policy) Satisfied(kind Kind, have map[Level]bool) bool {
	required := p.RequiredLevels(kind)
	if len(required) == 0 {
		return false
	}
	for _, level := range required {
		if !have[level] {
			return false
		}
	}
	return true
}

// Counts returns how many confirmed levels count toward the requirement.
func (p Policy) Counts(kind Kind, level Level) bool {
	for _, required := range p.RequiredLevels(kind) {
		if required == level {
			return true
		}
	}
	return false
}
