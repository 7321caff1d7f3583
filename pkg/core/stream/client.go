package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Client binds a signaling connection and a media connection into one
// Source. It is the production Dialer target; tests substitute a fake
// Source instead.
type Client struct {
	creds  Credentials
	desc   Descriptor
	logger *slog.Logger

	signaling *SignalingClient
	media     *MediaClient
	closeOnce sync.Once
}

// NewClient creates an unconnected stream client.
func NewClient(creds Credentials, desc Descriptor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{creds: creds, desc: desc, logger: logger}
}

// NewDialer returns a Dialer producing wire clients with the given
// credentials.
func NewDialer(creds Credentials, logger *slog.Logger) Dialer {
	return DialerFunc(func(desc Descriptor) Source {
		return NewClient(creds, desc, logger)
	})
}

// Connect negotiates the media URL over signaling, then opens the media
// connection. Both connections stay open until Close.
func (c *Client) Connect(ctx context.Context, h Handler) error {
	c.signaling = NewSignalingClient(c.creds, c.desc, c.logger)
	mediaURL, err := c.signaling.Connect(ctx)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}

	c.media = NewMediaClient(c.creds, c.desc, c.logger)
	if err := c.media.Connect(ctx, mediaURL, h); err != nil {
		_ = c.signaling.Close()
		return fmt.Errorf("stream connect: %w", err)
	}
	return nil
}

// Close releases both connections exactly once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.media != nil {
			err = c.media.Close()
		}
		if c.signaling != nil {
			if serr := c.signaling.Close(); err == nil {
				err = serr
			}
		}
	})
	return err
}
