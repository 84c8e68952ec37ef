package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beep-chat/beep/internal/model"
)

// wireMessage is the server message shape. Depending on the endpoint the
// sender arrives as a bare id string or as an expanded user object.
type wireMessage struct {
	ID        string    `json:"id"`
	AltID     string    `json:"_id"`
	Sender    senderRef `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
	Read      bool      `json:"read"`
}

type senderRef struct {
	ID string
}

func (s *senderRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.ID)
	}
	var obj struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.ID = obj.ID
	return nil
}

func (w *wireMessage) key() string {
	if w.ID != "" {
		return w.ID
	}
	return w.AltID
}

// Messages fetches the conversation history with a contact, oldest first.
// A response that is not a list of messages is a load failure, not an empty
// conversation.
func (c *Client) Messages(ctx context.Context, contactID string) ([]model.Message, error) {
	var wires []wireMessage
	if err := c.do(ctx, "GET", "messages/"+contactID, nil, &wires); err != nil {
		return nil, err
	}

	_, selfID := c.credential()
	msgs := make([]model.Message, 0, len(wires))
	for _, w := range wires {
		m := model.Message{
			ID:        w.key(),
			Content:   w.Content,
			CreatedAt: w.CreatedAt,
			Read:      w.Read,
		}
		if w.Sender.ID == selfID {
			m.Direction = model.DirectionSent
			m.ConversationID = contactID
			m.Status = model.Status(w.Status)
			if m.Status == "" {
				m.Status = model.StatusSent
			}
		} else {
			m.Direction = model.DirectionReceived
			m.ConversationID = w.Sender.ID
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SendMessage persists one outgoing message and returns the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, recipientID, content string) (string, error) {
	var resp struct {
		ID    string `json:"id"`
		AltID string `json:"_id"`
	}
	err := c.do(ctx, "POST", "messages", map[string]string{
		"recipientId": recipientID,
		"content":     content,
	}, &resp)
	if err != nil {
		return "", err
	}
	id := resp.ID
	if id == "" {
		id = resp.AltID
	}
	if id == "" {
		return "", fmt.Errorf("send: %w", ErrMalformedResponse)
	}
	return id, nil
}

// UnreadCounts fetches the server-side unread tallies per sender.
func (c *Client) UnreadCounts(ctx context.Context) ([]model.UnreadCount, error) {
	var counts []model.UnreadCount
	if err := c.do(ctx, "GET", "messages/unread", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}
