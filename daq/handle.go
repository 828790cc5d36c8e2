package daq

import "github.com/arloliu/go-daq/control"

// linkHandle is the connection held by a Controller. It is either disconnected or live; the
// control.Link is only reachable through a live handle.
type linkHandle interface {
	live() (control.Link, bool)
}

type disconnected struct{}

func (disconnected) live() (control.Link, bool) { return nil, false }

type liveLink struct {
	link control.Link
}

func (h liveLink) live() (control.Link, bool) { return h.link, true }

var (
	_ linkHandle = disconnected{}
	_ linkHandle = liveLink{}
)
