package email

// Config holds the sender identity and Postmark credentials. Without a
// server token the process falls back to DevSender writing into DevDir.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"noreply@sharepool.local"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@sharepool.local"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"tmp/emails"`
}

// Enabled reports whether Postmark credentials are configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}

// NewSender returns the Postmark client when configured, DevSender otherwise.
func NewSender(cfg Config) (EmailSender, error) {
	if !cfg.Enabled() {
		return NewDevSender(cfg.DevDir), nil
	}
	s, err := NewPostmarkClient(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
