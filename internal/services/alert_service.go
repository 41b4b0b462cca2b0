package services

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Oshinsu/random-rendezvous-now-sub000/internal/models"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// AlertService emails the operations inbox when something needs a human:
// venue assignment failures are reported rather than retried, and cleanup
// step failures should not wait for someone to read the logs.
type AlertService struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	opsEmail  string
}

func NewAlertService() *AlertService {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	fromEmail := os.Getenv("SENDGRID_ALERTS_FROM_EMAIL")
	fromName := os.Getenv("SENDGRID_FROM_NAME")
	opsEmail := os.Getenv("OPS_ALERT_EMAIL")

	client := sendgrid.NewSendClient(apiKey)

	return &AlertService{
		client:    client,
		fromEmail: fromEmail,
		fromName:  fromName,
		opsEmail:  opsEmail,
	}
}

func (s *AlertService) send(subject, plainContent string) error {
	if s.opsEmail == "" {
		log.Printf("Warning: OPS_ALERT_EMAIL not set, dropping alert: %s", subject)
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("Operations", s.opsEmail)
	htmlContent := fmt.Sprintf("<p>%s</p>", plainContent)

	message := mail.NewSingleEmail(from, subject, to, plainContent, htmlContent)
	_, err := s.client.Send(message)
	return err
}

// SendVenueFailureAlert reports that a full group could not be assigned a venue
func (s *AlertService) SendVenueFailureAlert(group models.Group, reason string) error {
	subject := fmt.Sprintf("Venue assignment failed for group %s", group.ID)
	plainContent := fmt.Sprintf(
		"Group %s (%s, %d participants) could not be assigned a venue: %s. The group stays confirmed without a venue.",
		group.ID, group.LocationName, group.CurrentParticipants, reason)
	return s.send(subject, plainContent)
}

// SendCleanupFailureAlert reports a failed cleanup step; the next tick retries it
func (s *AlertService) SendCleanupFailureAlert(step string, stepErr error) error {
	subject := fmt.Sprintf("Cleanup step %q failed", step)
	plainContent := fmt.Sprintf("Cleanup step %q failed at %s: %v. The next scheduled run will retry.",
		step, time.Now().Format(time.RFC3339), stepErr)
	return s.send(subject, plainContent)
}
