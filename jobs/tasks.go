package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/invitations"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBillingApply carries a verified billing webhook event body.
	TaskBillingApply = "billing:apply"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskInvitationsExpire sweeps overdue pending invitations.
	TaskInvitationsExpire = "invitations:expire"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP/Mailpit in phase 2.
	fmt.Printf("[jobs] send email to %s subject=%s\n", payload.To, payload.Subject)
	return nil
}

// BillingApplyJob replays verified webhook bodies against the subscription
// store. The payload is the raw event JSON; the signature was already
// checked at the HTTP edge.
type BillingApplyJob struct {
	service *billing.Service
	logger  *slog.Logger
}

// NewBillingApplyJob constructs a BillingApplyJob.
func NewBillingApplyJob(service *billing.Service, logger *slog.Logger) *BillingApplyJob {
	return &BillingApplyJob{service: service, logger: logger}
}

// Handle processes TaskBillingApply tasks.
func (j *BillingApplyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var event billing.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		j.logger.Error("billing apply: malformed payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	if err := j.service.Apply(ctx, event); err != nil {
		j.logger.Error("billing apply",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.Any("error", err))
		return err
	}
	return nil
}

// InvitationSweeper is the slice of the invitation store the sweep needs.
type InvitationSweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// InvitationSweepJob expires overdue pending invitations on a schedule.
type InvitationSweepJob struct {
	store  InvitationSweeper
	logger *slog.Logger
}

// NewInvitationSweepJob constructs an InvitationSweepJob.
func NewInvitationSweepJob(store InvitationSweeper, logger *slog.Logger) *InvitationSweepJob {
	return &InvitationSweepJob{store: store, logger: logger}
}

// NewInvitationSweepTask constructs the cron task. The payload is empty.
func NewInvitationSweepTask() *asynq.Task {
	return asynq.NewTask(TaskInvitationsExpire, nil)
}

// Handle processes TaskInvitationsExpire tasks.
func (j *InvitationSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	expired, err := j.store.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("invitation sweep", slog.Any("error", err))
		return err
	}
	if expired > 0 {
		j.logger.Info("invitation sweep", slog.Int64("expired", expired))
	}
	return nil
}

// InvitationMailer turns invitations into queued emails. It satisfies
// invitations.Mailer.
type InvitationMailer struct {
	client *Client
	appURL string
}

// NewInvitationMailer constructs an InvitationMailer.
func NewInvitationMailer(client *Client, appURL string) *InvitationMailer {
	return &InvitationMailer{client: client, appURL: appURL}
}

// SendInvitation enqueues the invitation email.
func (m *InvitationMailer) SendInvitation(ctx context.Context, inv invitations.Invitation) error {
	name := inv.BusinessName
	if name == "" {
		name = "a business"
	}
	body := fmt.Sprintf("You have been invited to join %s as %s. Accept at %s/invitations.",
		name, inv.Role, m.appURL)
	_, err := m.client.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      inv.Email,
		Subject: "You have been invited to a business on LedgerKeep",
		Body:    body,
	})
	return err
}
