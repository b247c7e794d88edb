package membership

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/application"
	appentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
)

type Accounts interface {
	Get(ctx context.Context, uid string) (*userentity.Account, error)
	Watch(uid string, fn func()) (cancel func())
}

type Applications interface {
	Latest(ctx context.Context, uid string) (*appentity.Application, error)
	Watch(fn func(uid string)) (cancel func())
}

// sessionCheckInterval is how often Watch confirms its session is still
// live when nothing else triggers a recompute.
const sessionCheckInterval = 30 * time.Second

// Router recomputes a session's directive from the current account and
// application records.
type Router struct {
	accounts Accounts
	apps     Applications
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

func NewRouter(accounts Accounts, apps Applications, clock clockwork.Clock, logger *zap.SugaredLogger) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Router{accounts: accounts, apps: apps, clock: clock, logger: logger}
}

// Recompute derives the directive for sess from scratch. A Suspended result
// signs the session out before returning, so the next call yields Anonymous.
// Calling it repeatedly without intervening changes returns the same
// directive and has no further effect.
func (r *Router) Recompute(ctx context.Context, sess *session.Session) (Directive, error) {
	if uid, ok := sess.Suspended(); ok {
		return r.suspend(ctx, sess, uid)
	}
	uid := sess.CurrentToken()
	if uid == "" {
		return directive("", Input{}), nil
	}
	if err := sess.Valid(ctx); err != nil {
		if !errors.Is(err, session.ErrSessionEnded) {
			return Directive{}, err
		}
		r.logger.Infow("session ended elsewhere", "uid", uid)
		return directive("", Input{}), nil
	}

	acct, err := r.accounts.Get(ctx, uid)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			return Directive{}, err
		}
		r.logger.Warnw("signed-in identity has no profile, signing out", "uid", uid)
		if err := sess.SignOut(ctx); err != nil {
			return Directive{}, err
		}
		return directive("", Input{}), nil
	}
	if acct.IsBanned {
		return r.suspend(ctx, sess, uid)
	}

	in := Input{Authenticated: true}
	latest, err := r.apps.Latest(ctx, uid)
	switch {
	case err == nil:
		in.Application = latest.Status
	case errors.Is(err, application.ErrNoApplication):
	default:
		return Directive{}, err
	}
	return directive(uid, in), nil
}

func (r *Router) suspend(ctx context.Context, sess *session.Session, uid string) (Directive, error) {
	d := directive(uid, Input{Authenticated: true, Banned: true})
	r.logger.Infow("banned account signed out", "uid", uid)
	if err := sess.SignOut(ctx); err != nil {
		return Directive{}, err
	}
	return d, nil
}

// Watch emits the session's directive, then recomputes after every sign-in,
// sign-out, account change or application change that concerns the session
// and emits again only when the directive differs. It blocks until ctx is
// done or the session is closed; all subscriptions are released on return.
// A session signed out from another connection gets a final Anonymous
// directive and Watch returns session.ErrSessionEnded.
func (r *Router) Watch(ctx context.Context, sess *session.Session, emit func(Directive)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.Defer(cancel)

	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	stopAuth := sess.OnAuthStateChange(func(string) { poke() })
	defer stopAuth()
	stopApps := r.apps.Watch(func(owner string) {
		// removals carry no owner
		if owner == "" || owner == sess.CurrentToken() {
			poke()
		}
	})
	defer stopApps()

	var (
		watched   string
		stopAcct  = func() {}
		last      Directive
		delivered bool
	)
	defer func() { stopAcct() }()

	ticker := r.clock.NewTicker(sessionCheckInterval)
	defer ticker.Stop()

	poke()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
		case <-ticker.Chan():
		}

		if err := sess.Valid(ctx); err != nil {
			if errors.Is(err, session.ErrSessionEnded) {
				if d := directive("", Input{}); !delivered || d != last {
					emit(d)
				}
				return err
			}
			r.logger.Warnw("check session", "err", err)
			continue
		}

		if uid := sess.CurrentToken(); uid != watched {
			stopAcct()
			stopAcct = func() {}
			if uid != "" {
				stopAcct = r.accounts.Watch(uid, poke)
			}
			watched = uid
		}

		d, err := r.Recompute(ctx, sess)
		if err != nil {
			r.logger.Warnw("recompute directive", "err", err)
			continue
		}
		if delivered && d == last {
			continue
		}
		last, delivered = d, true
		emit(d)
	}
}
