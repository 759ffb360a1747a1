package app

import (
	"errors"
	"fmt"
)

var (
	errChannelNotFound = errors.New("channel not found")
	errChannelPaused   = errors.New("channel not active")

	// Skip-plan failure modes. The orchestrator maps all three to the
	// "return origin verbatim" branch of the fallback ladder.
	errMarkerNotFound   = errors.New("marker not found")
	errNoSegmentsToSkip = errors.New("no segments to skip")
	errWindowRolledOut  = errors.New("window rolled out")
)

type errOriginStatus struct {
	url    string
	status int
}

func newErrOriginStatus(url string, status int) errOriginStatus {
	return errOriginStatus{url: url, status: status}
}

func (e errOriginStatus) Error() string {
	return fmt.Sprintf("origin returned %d for %s", e.status, e.url)
}
