package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"verdantdo/dashboard"
	"verdantdo/identity"
	"verdantdo/livequery"
)

// liveView is the per-connection session: its own identity session,
// aggregator and controller, so a connection only ever sees its user's data.
type liveView struct {
	session *identity.Session
	agg     *livequery.Aggregator
	ctrl    *dashboard.Controller
	updates chan struct{}
	cancel  func()
}

func openLiveView(ctx context.Context, store Store, verifier identity.Verifier, token string, logger *log.Logger) (*liveView, error) {
	session := identity.NewSession(verifier, logger)
	if _, err := session.SignIn(ctx, token); err != nil {
		return nil, err
	}
	lv := &liveView{
		session: session,
		agg:     livequery.New(store, logger),
		updates: make(chan struct{}, 1),
	}
	lv.cancel = lv.agg.Subscribe(func(livequery.View) {
		select {
		case lv.updates <- struct{}{}:
		default:
		}
	})
	lv.ctrl = dashboard.Bind(session, lv.agg, store, logger)
	return lv, nil
}

func (lv *liveView) View() livequery.View {
	return lv.agg.View()
}

func (lv *liveView) Close() {
	lv.session.SignOut()
	lv.cancel()
	lv.ctrl.Unbind()
}
