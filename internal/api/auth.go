package api

import "context"

// Session is the credential yielded by login or registration.
type Session struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Login authenticates with username and password. On success the client
// keeps the bearer credential for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var sess Session
	err := c.do(ctx, "POST", "auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &sess)
	if err != nil {
		return nil, err
	}
	if sess.Token == "" {
		return nil, ErrMalformedResponse
	}
	c.SetCredential(sess.Token, sess.UserID)
	return &sess, nil
}

// Register creates an account and logs in.
func (c *Client) Register(ctx context.Context, username, email, password string) (*Session, error) {
	var sess Session
	err := c.do(ctx, "POST", "auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &sess)
	if err != nil {
		return nil, err
	}
	if sess.Token == "" {
		return nil, ErrMalformedResponse
	}
	c.SetCredential(sess.Token, sess.UserID)
	return &sess, nil
}
