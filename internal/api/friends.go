package api

import (
	"context"
	"net/url"

	"github.com/beep-chat/beep/internal/model"
)

// Friends fetches the contact list.
func (c *Client) Friends(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := c.do(ctx, "GET", "users/friends", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FriendRequests fetches pending incoming friend requests.
func (c *Client) FriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	var reqs []model.FriendRequest
	if err := c.do(ctx, "GET", "users/friend-requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// SendFriendRequest asks another user to become a contact.
func (c *Client) SendFriendRequest(ctx context.Context, recipientID string) error {
	return c.do(ctx, "POST", "users/friend-request", map[string]string{
		"recipientId": recipientID,
	}, nil)
}

// RespondFriendRequest accepts or rejects a pending request.
// status is "accepted" or "rejected".
func (c *Client) RespondFriendRequest(ctx context.Context, requestID, status string) error {
	return c.do(ctx, "PUT", "users/friend-request/"+requestID, map[string]string{
		"status": status,
	}, nil)
}

// SearchUsers finds users by username.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var users []model.User
	path := "users/search?username=" + url.QueryEscape(query)
	if err := c.do(ctx, "GET", path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}
