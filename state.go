package bufalloc

import "fmt"

// phase is the progress of one generation's collection.
type phase uint8

const (
	notCollecting phase = iota
	marking
	sweeping
)

func (p phase) String() string {
	switch p {
	case notCollecting:
		return "not-collecting"
	case marking:
		return "marking"
	case sweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

// gcState combines the minor and major collection phases with the two
// situations where a minor sweep overlaps the end or the start of a major
// collection.
type gcState uint8

const (
	stateIdle gcState = iota
	stateMinorMarking
	stateMinorSweeping
	// stateMinorSweepingAfterMajor: the major collection ended while the
	// minor sweep ran. Chunks merged from that sweep drop their collection
	// flags.
	stateMinorSweepingAfterMajor
	stateMajorMarking
	stateMajorSweeping
	stateMinorMarkingMajorMarking
	stateMinorMarkingMajorSweeping
	stateMinorSweepingMajorMarking
	// stateMinorSweepingMajorAdopting: the major collection started while
	// the minor sweep ran. Tenured-only chunks merged from that sweep join
	// the major to-sweep list.
	stateMinorSweepingMajorAdopting
	stateMinorSweepingMajorSweeping
)

var stateNames = [...]string{
	stateIdle:                       "idle",
	stateMinorMarking:               "minor-marking",
	stateMinorSweeping:              "minor-sweeping",
	stateMinorSweepingAfterMajor:    "minor-sweeping-after-major",
	stateMajorMarking:               "major-marking",
	stateMajorSweeping:              "major-sweeping",
	stateMinorMarkingMajorMarking:   "minor-marking/major-marking",
	stateMinorMarkingMajorSweeping:  "minor-marking/major-sweeping",
	stateMinorSweepingMajorMarking:  "minor-sweeping/major-marking",
	stateMinorSweepingMajorAdopting: "minor-sweeping/major-adopting",
	stateMinorSweepingMajorSweeping: "minor-sweeping/major-sweeping",
}

func (s gcState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("gcState(%d)", uint8(s))
}

func (s gcState) minor() phase {
	switch s {
	case stateMinorMarking, stateMinorMarkingMajorMarking, stateMinorMarkingMajorSweeping:
		return marking
	case stateMinorSweeping, stateMinorSweepingAfterMajor, stateMinorSweepingMajorMarking,
		stateMinorSweepingMajorAdopting, stateMinorSweepingMajorSweeping:
		return sweeping
	default:
		return notCollecting
	}
}

func (s gcState) major() phase {
	switch s {
	case stateMajorMarking, stateMinorMarkingMajorMarking, stateMinorSweepingMajorMarking,
		stateMinorSweepingMajorAdopting:
		return marking
	case stateMajorSweeping, stateMinorMarkingMajorSweeping, stateMinorSweepingMajorSweeping:
		return sweeping
	default:
		return notCollecting
	}
}

func (s gcState) minorMarking() bool  { return s.minor() == marking }
func (s gcState) minorSweeping() bool { return s.minor() == sweeping }
func (s gcState) majorMarking() bool  { return s.major() == marking }
func (s gcState) majorSweeping() bool { return s.major() == sweeping }
func (s gcState) adopting() bool      { return s == stateMinorSweepingMajorAdopting }
func (s gcState) afterMajor() bool    { return s == stateMinorSweepingAfterMajor }

func (s gcState) invalid(op string) gcState {
	panic(fmt.Sprintf("bufalloc: %s in state %s", op, s))
}

func (s gcState) startMinor() gcState {
	switch s {
	case stateIdle:
		return stateMinorMarking
	case stateMajorMarking:
		return stateMinorMarkingMajorMarking
	case stateMajorSweeping:
		return stateMinorMarkingMajorSweeping
	default:
		return s.invalid("start minor collection")
	}
}

// skipMinorSweep ends a minor collection that has nothing to sweep.
func (s gcState) skipMinorSweep() gcState {
	switch s {
	case stateMinorMarking:
		return stateIdle
	case stateMinorMarkingMajorMarking:
		return stateMajorMarking
	case stateMinorMarkingMajorSweeping:
		return stateMajorSweeping
	default:
		return s.invalid("skip minor sweep")
	}
}

func (s gcState) startMinorSweep() gcState {
	switch s {
	case stateMinorMarking:
		return stateMinorSweeping
	case stateMinorMarkingMajorMarking:
		return stateMinorSweepingMajorMarking
	case stateMinorMarkingMajorSweeping:
		return stateMinorSweepingMajorSweeping
	default:
		return s.invalid("start minor sweep")
	}
}

func (s gcState) finishMinorSweep() gcState {
	switch s {
	case stateMinorSweeping, stateMinorSweepingAfterMajor:
		return stateIdle
	case stateMinorSweepingMajorMarking, stateMinorSweepingMajorAdopting:
		return stateMajorMarking
	case stateMinorSweepingMajorSweeping:
		return stateMajorSweeping
	default:
		return s.invalid("finish minor sweep")
	}
}

func (s gcState) startMajor() gcState {
	switch s {
	case stateIdle:
		return stateMajorMarking
	case stateMinorSweeping, stateMinorSweepingAfterMajor:
		return stateMinorSweepingMajorAdopting
	default:
		return s.invalid("start major collection")
	}
}

func (s gcState) startMajorSweep() gcState {
	switch s {
	case stateMajorMarking:
		return stateMajorSweeping
	case stateMinorMarkingMajorMarking:
		return stateMinorMarkingMajorSweeping
	case stateMinorSweepingMajorMarking:
		return stateMinorSweepingMajorSweeping
	default:
		return s.invalid("start major sweep")
	}
}

func (s gcState) finishMajorSweep() gcState {
	switch s {
	case stateMajorSweeping:
		return stateIdle
	case stateMinorMarkingMajorSweeping:
		return stateMinorMarking
	case stateMinorSweepingMajorSweeping:
		return stateMinorSweepingAfterMajor
	default:
		return s.invalid("finish major sweep")
	}
}

// abortMajor ends a major collection that never started sweeping.
func (s gcState) abortMajor() gcState {
	switch s {
	case stateMajorMarking:
		return stateIdle
	case stateMinorMarkingMajorMarking:
		return stateMinorMarking
	case stateMinorSweepingMajorMarking, stateMinorSweepingMajorAdopting:
		return stateMinorSweepingAfterMajor
	default:
		return s.invalid("abort major collection")
	}
}
