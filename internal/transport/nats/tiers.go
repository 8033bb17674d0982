package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"treasury/internal/model"
)

// TierClient queries the reputation collaborator for an org's current tier
// membership over NATS request/reply. The payout engine calls this once per
// cycle.
type TierClient struct {
	nc *nats.Conn
}

func NewTierClient(nc *nats.Conn) *TierClient {
	return &TierClient{nc: nc}
}

func (c *TierClient) UsersByTier(ctx context.Context, org string) ([]model.TierMember, error) {
	req, err := json.Marshal(map[string]string{"org": org})
	if err != nil {
		return nil, err
	}
	msg, err := c.nc.RequestWithContext(ctx, "tiers.query", req)
	if err != nil {
		return nil, fmt.Errorf("tier membership request: %w", err)
	}
	var res struct {
		Members []model.TierMember `json:"members"`
		Error   string             `json:"error,omitempty"`
	}
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return nil, fmt.Errorf("tier membership response: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("tier membership query rejected: %s", res.Error)
	}
	return res.Members, nil
}
