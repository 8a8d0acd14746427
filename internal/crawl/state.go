// Package crawl drives one source through its listing pages: which page
// comes next, when the source is exhausted, and when to jump ahead or
// backtrack over history that is probably already stored.
package crawl

import (
	"fmt"
	"strings"
)

type Mode int

const (
	Incremental Mode = iota
	Full
)

func (m Mode) String() string {
	if m == Full {
		return "full"
	}
	return "incremental"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "incremental":
		return Incremental, nil
	case "full":
		return Full, nil
	}
	return Incremental, fmt.Errorf("unknown crawl mode %q", s)
}

type StopReason string

const (
	StopNone            StopReason = ""
	StopRequested       StopReason = "stop_requested"
	StopMaxPages        StopReason = "max_pages"
	StopSkipThreshold   StopReason = "skip_threshold"
	StopCeiling         StopReason = "page_ceiling"
	StopExhausted       StopReason = "exhausted"
	StopCutoff          StopReason = "cutoff_reached"
	StopListingFailures StopReason = "listing_failures"
	StopShutdown        StopReason = "shutdown"
)

// State is the whole crawl position of one source. It is owned by a single
// controller and advanced by value.
type State struct {
	Mode      Mode
	PageIndex int
	RunLoop   bool
	Reason    StopReason

	ConsecutiveSkips int
	SkippedURLs      int
	SavedThisPage    int

	SkipStage      int
	SkippedPages   []int
	IsBacktracking bool
	// ResumeFrom is the forward page that triggered the current backtrack.
	ResumeFrom int

	ListingFailures int
}

func NewState(mode Mode, startPage int) State {
	return State{
		Mode:      mode,
		PageIndex: startPage,
		RunLoop:   true,
	}
}

// Halt clears RunLoop. The first reason given is kept.
func (s *State) Halt(reason StopReason) {
	s.RunLoop = false
	if s.Reason == StopNone {
		s.Reason = reason
	}
}

// Limits are the termination settings of one source.
type Limits struct {
	MaxPages      int
	SkipThreshold int
	SkipLogic     bool
	// Ceiling caps the page index in Full mode.
	Ceiling            int
	MaxListingFailures int
}

// ShouldContinue reports whether another page may be fetched, and why not
// when it may not.
func (s State) ShouldContinue(l Limits) (bool, StopReason) {
	if !s.RunLoop {
		if s.Reason == StopNone {
			return false, StopRequested
		}
		return false, s.Reason
	}

	if l.MaxListingFailures > 0 && s.ListingFailures >= l.MaxListingFailures {
		return false, StopListingFailures
	}

	switch s.Mode {
	case Incremental:
		if l.MaxPages > 0 && s.PageIndex > l.MaxPages {
			return false, StopMaxPages
		}
		if l.SkipLogic && l.SkipThreshold > 0 && s.ConsecutiveSkips >= l.SkipThreshold {
			return false, StopSkipThreshold
		}
	case Full:
		if l.Ceiling > 0 && s.PageIndex >= l.Ceiling {
			return false, StopCeiling
		}
	}
	return true, StopNone
}
