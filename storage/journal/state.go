package journal

import "fmt"

type State int

const (
	Uninitialized State = iota
	Initializing
	Scanning
	Ready
	Erasing
	WritingHead
	WritingBody
	Logging
	WritingTail
	Reading
	Resetting
	Error
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Initializing:  "initializing",
	Scanning:      "scanning",
	Ready:         "ready",
	Erasing:       "erasing",
	WritingHead:   "writing-head",
	WritingBody:   "writing-body",
	Logging:       "logging",
	WritingTail:   "writing-tail",
	Reading:       "reading",
	Resetting:     "resetting",
	Error:         "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Op tags the journal call a completion belongs to.
type Op int

const (
	OpInitialize Op = iota
	OpRead
	OpLog
	OpCommit
	OpReset
)

func (op Op) String() string {
	switch op {
	case OpInitialize:
		return "initialize"
	case OpRead:
		return "read"
	case OpLog:
		return "log"
	case OpCommit:
		return "commit"
	case OpReset:
		return "reset"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// step is the pipeline stage whose driver request is issued next.
type step int

const (
	stepIdle step = iota
	stepDriverInit
	stepScanTail
	stepScanHead
	stepErase
	stepHead
	stepBody
	stepFlush
	stepTail
	stepRead
	stepResetErase
)

func (s step) state() State {
	switch s {
	case stepDriverInit:
		return Initializing
	case stepScanTail, stepScanHead:
		return Scanning
	case stepErase:
		return Erasing
	case stepHead:
		return WritingHead
	case stepBody, stepFlush:
		return WritingBody
	case stepTail:
		return WritingTail
	case stepRead:
		return Reading
	case stepResetErase:
		return Resetting
	default:
		return Ready
	}
}
