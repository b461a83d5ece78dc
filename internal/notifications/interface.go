package notifications

import (
	"context"

	"github.com/chainscope/social-pulse/internal/models"
	"gopkg.in/gomail.v2"
)

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendAlert(ctx context.Context, alert *models.Alert) error
	SendDigest(ctx context.Context, digest *models.Digest) error
}

// Mailer delivers composed email messages; *gomail.Dialer implements it
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}
