// internal/notify/notify.go
package notify

import (
	"fmt"
	"net/smtp"

	"github.com/prospectgrid/prospectgrid-backend/internal/model"
)

// Notifier tells the customer their campaign finished. Strictly best
// effort: a send failure never fails the campaign.
type Notifier interface {
	CampaignCompleted(c *model.Campaign) error
}

// SMTPNotifier sends a plain-text completion mail.
type SMTPNotifier struct {
	Host string
	Port int
	From string
}

func (n *SMTPNotifier) CampaignCompleted(c *model.Campaign) error {
	if c.Email == "" || n.Host == "" {
		return nil
	}
	body := fmt.Sprintf(
		"To: %s\r\nFrom: %s\r\nSubject: Your property analysis is ready\r\n\r\n"+
			"Campaign %s finished: %d of %d properties analyzed successfully (%d failed).\r\n",
		c.Email, n.From, c.ID, c.SuccessCount, c.TotalCount, c.FailedCount,
	)
	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)
	return smtp.SendMail(addr, nil, n.From, []string{c.Email}, []byte(body))
}

// NopNotifier is used when SMTP is not configured.
type NopNotifier struct{}

func (NopNotifier) CampaignCompleted(*model.Campaign) error { return nil }
