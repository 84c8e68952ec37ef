package api

import (
	"context"

	"github.com/beep-chat/beep/internal/model"
)

// Status fetches presence for one user over the request/response fallback.
func (c *Client) Status(ctx context.Context, userID string) (model.PresenceRecord, error) {
	var rec model.PresenceRecord
	if err := c.do(ctx, "GET", "users/status/"+userID, nil, &rec); err != nil {
		return model.PresenceRecord{}, err
	}
	if rec.UserID == "" {
		rec.UserID = userID
	}
	return rec, nil
}

// StatusBatch fetches presence for a batch of users over the
// request/response fallback.
func (c *Client) StatusBatch(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error) {
	var recs []model.PresenceRecord
	err := c.do(ctx, "POST", "users/status", map[string][]string{
		"userIds": userIDs,
	}, &recs)
	if err != nil {
		return nil, err
	}
	return recs, nil
}
