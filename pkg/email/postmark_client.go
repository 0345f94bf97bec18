package email

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkSender delivers through Postmark's transactional API.
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

func NewPostmarkClient(cfg Config) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required", ErrInvalidConfig)
	}
	if !validAddress(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: sender address %q is not a bare email address", ErrInvalidConfig, cfg.SenderEmail)
	}
	if !validAddress(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: support address %q is not a bare email address", ErrInvalidConfig, cfg.SupportEmail)
	}
	return &PostmarkSender{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
	}, nil
}

// SendEmail sends one message. Replies go to the support address and opens
// are not tracked.
func (s *PostmarkSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		ReplyTo:  s.replyTo,
		To:       params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		HTMLBody: params.BodyHTML,
		TextBody: params.BodyText,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode != 0 {
		return fmt.Errorf("%w: postmark code %d: %s", ErrFailedToSendEmail, resp.ErrorCode, resp.Message)
	}
	return nil
}
