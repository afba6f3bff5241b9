package queue

import (
	"fmt"
	"strings"
)

// DuplicateHandling decides what happens when a project that already has a
// pending item asks to be queued again. Only ForceBuild requests can displace
// the pending item; anything weaker is dropped in every mode.
type DuplicateHandling int

const (
	// UseFirst keeps the pending item and drops the new request.
	UseFirst DuplicateHandling = iota
	// ApplyForceBuildsReAdd removes the pending item and queues the force
	// build at the back of its priority group.
	ApplyForceBuildsReAdd
	// ApplyForceBuildsReAddTop removes the pending item and puts the force
	// build at the head of the pending list.
	ApplyForceBuildsReAddTop
	// ApplyForceBuildsReplace swaps the force build into the pending item's
	// position.
	ApplyForceBuildsReplace
	// ApplyForceBuildsImmediately behaves like ApplyForceBuildsReAddTop; an
	// active build is never interrupted.
	ApplyForceBuildsImmediately
)

var duplicateNames = []string{
	UseFirst:                    "UseFirst",
	ApplyForceBuildsReAdd:       "ApplyForceBuildsReAdd",
	ApplyForceBuildsReAddTop:    "ApplyForceBuildsReAddTop",
	ApplyForceBuildsReplace:     "ApplyForceBuildsReplace",
	ApplyForceBuildsImmediately: "ApplyForceBuildsImmediately",
}

func (d DuplicateHandling) String() string {
	if d >= 0 && int(d) < len(duplicateNames) {
		return duplicateNames[d]
	}
	return fmt.Sprintf("DuplicateHandling(%d)", int(d))
}

// ParseDuplicateHandling matches the names above case-insensitively; empty
// means UseFirst.
func ParseDuplicateHandling(s string) (DuplicateHandling, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UseFirst, nil
	}
	for i, n := range duplicateNames {
		if strings.EqualFold(n, s) {
			return DuplicateHandling(i), nil
		}
	}
	return UseFirst, fmt.Errorf("unknown duplicate handling %q", s)
}

// Config is a QueueConfiguration.
type Config struct {
	Name       string
	Duplicates DuplicateHandling
}
