package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"treasury/internal/service"
)

// Subjects consumed from collaborators.
const (
	SubjectRepAwarded    = "rep.awarded"
	SubjectPayoutTrigger = "payouts.trigger"
)

// awardNotification is the reputation engine's wire format. Meta is carried
// for forward compatibility and currently unused.
type awardNotification struct {
	Org      string            `json:"org"`
	User     string            `json:"user"`
	RepDelta int64             `json:"rep_delta"`
	Meta     map[string]string `json:"meta,omitempty"`
}

type payoutTrigger struct {
	Org string `json:"org"`
}

// Handler subscribes to collaborator subjects and delegates to the treasury
// service.
type Handler struct {
	svc  service.TreasuryService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.TreasuryService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to the collaborator subjects and blocks until ctx is
// cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(SubjectRepAwarded, "treasury_group", func(m *nats.Msg) {
		var note awardNotification
		if err := json.Unmarshal(m.Data, &note); err != nil {
			slog.Error("nats: failed to unmarshal award notification", "error", err)
			return
		}
		if err := h.svc.RepAwarded(ctx, note.Org, note.User, note.RepDelta); err != nil {
			slog.Error("nats: micro-tip processing failed", "org", note.Org, "user", note.User, "error", err)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(SubjectPayoutTrigger, "treasury_group", func(m *nats.Msg) {
		var trig payoutTrigger
		if err := json.Unmarshal(m.Data, &trig); err != nil {
			slog.Error("nats: failed to unmarshal payout trigger", "error", err)
			return
		}
		if _, err := h.svc.RunPayoutCycle(ctx, trig.Org); err != nil {
			slog.Error("nats: payout cycle failed", "org", trig.Org, "error", err)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	slog.Info("NATS treasury handler is running")

	// Block until context is cancelled.
	<-ctx.Done()
	slog.Info("NATS treasury handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
