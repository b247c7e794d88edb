// Package membership decides which screen a session belongs on. Compute is
// a pure function of the session's inputs; Router gathers those inputs and
// recomputes after every event that may change them.
package membership

import appentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"

type State string

const (
	Anonymous        State = "anonymous"
	Suspended        State = "suspended"
	NeedsApplication State = "needs_application"
	AwaitingDecision State = "awaiting_decision"
	Member           State = "member"
)

type Route string

const (
	RouteLogin Route = "login"
	RouteApply Route = "apply"
	RouteHome  Route = "home"
)

// Input is everything the state depends on. An empty Application means the
// account has never applied.
type Input struct {
	Authenticated bool
	Banned        bool
	Application   appentity.Status
}

func Compute(in Input) State {
	switch {
	case !in.Authenticated:
		return Anonymous
	case in.Banned:
		return Suspended
	}
	switch in.Application {
	case appentity.StatusApproved:
		return Member
	case appentity.StatusPending, appentity.StatusRejected:
		return AwaitingDecision
	default:
		return NeedsApplication
	}
}

func (s State) Route() Route {
	switch s {
	case Member:
		return RouteHome
	case NeedsApplication, AwaitingDecision:
		return RouteApply
	default:
		return RouteLogin
	}
}

// Directive tells the client where to go.
type Directive struct {
	State             State            `json:"state"`
	Route             Route            `json:"route"`
	UID               string           `json:"uid,omitempty"`
	ApplicationStatus appentity.Status `json:"applicationStatus,omitempty"`
}

func directive(uid string, in Input) Directive {
	st := Compute(in)
	d := Directive{State: st, Route: st.Route()}
	if st != Anonymous {
		d.UID = uid
	}
	if st == AwaitingDecision || st == Member {
		d.ApplicationStatus = in.Application
	}
	return d
}
