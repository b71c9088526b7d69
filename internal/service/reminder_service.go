package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/pkg/jobs"
	"github.com/safeguard-ngo/impact-api/pkg/mailer"
)

type reminderUserLister interface {
	ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

// ReminderService emails partners ahead of the monthly submission cutoff.
// Delivery is fire-and-forget through the in-memory job queue; a failed
// reminder never affects workflow correctness.
type ReminderService struct {
	users     reminderUserLister
	mail      mailer.Mailer
	queue     *jobs.Queue[reminderPayload]
	cutoffDay int
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	cancel context.CancelFunc
}

// NewReminderService constructs the service. cutoffDay is the day of the
// month submissions are due.
func NewReminderService(users reminderUserLister, mail mailer.Mailer, cutoffDay int, interval time.Duration, logger *zap.Logger) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cutoffDay < 1 || cutoffDay > 28 {
		cutoffDay = 10
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s := &ReminderService{
		users:     users,
		mail:      mail,
		cutoffDay: cutoffDay,
		interval:  interval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.queue = jobs.NewQueue("deadline-reminders", s.handleJob, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Minute,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers and the periodic check loop.
func (s *ReminderService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)
	go s.loop(ctx)
}

// Stop halts the check loop and drains the queue workers.
func (s *ReminderService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.queue.Stop()
}

func (s *ReminderService) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckAndEnqueue(ctx)
		}
	}
}

// CheckAndEnqueue enqueues reminder emails when the cutoff is near: three
// days before, one day before, and on the cutoff day itself.
func (s *ReminderService) CheckAndEnqueue(ctx context.Context) {
	days := s.DaysUntilCutoff()
	if days != 3 && days != 1 && days != 0 {
		return
	}

	users, err := s.users.ListByRole(ctx, models.RolePartner)
	if err != nil {
		s.logger.Warn("failed to list partners for reminders", zap.Error(err))
		return
	}
	for _, u := range users {
		job := jobs.Job[reminderPayload]{
			Payload: reminderPayload{
				ToName:    u.FullName,
				ToAddress: u.Email,
				DaysLeft:  days,
			},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue reminder", zap.String("email", u.Email), zap.Error(err))
		}
	}
	s.logger.Info("deadline reminders enqueued", zap.Int("recipients", len(users)), zap.Int("days_left", days))
}

// DaysUntilCutoff returns whole days until this month's cutoff, rolling over
// to next month once the cutoff has passed.
func (s *ReminderService) DaysUntilCutoff() int {
	now := s.now()
	cutoff := time.Date(now.Year(), now.Month(), s.cutoffDay, 0, 0, 0, 0, now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if today.After(cutoff) {
		cutoff = cutoff.AddDate(0, 1, 0)
	}
	return int(cutoff.Sub(today).Hours() / 24)
}

type reminderPayload struct {
	ToName    string
	ToAddress string
	DaysLeft  int
}

func (s *ReminderService) handleJob(_ context.Context, job jobs.Job[reminderPayload]) error {
	payload := job.Payload

	var deadline string
	switch payload.DaysLeft {
	case 0:
		deadline = "today"
	case 1:
		deadline = "tomorrow"
	default:
		deadline = fmt.Sprintf("in %d days", payload.DaysLeft)
	}

	msg := mailer.Message{
		ToName:    payload.ToName,
		ToAddress: payload.ToAddress,
		Subject:   "Monthly data submission deadline is " + deadline,
		Text: fmt.Sprintf("Hello %s,\n\nThe monthly impact data submission deadline is %s (day %d of the month). Please make sure all field submissions are reviewed before then.\n",
			payload.ToName, deadline, s.cutoffDay),
		HTML: fmt.Sprintf("<p>Hello %s,</p><p>The monthly impact data submission deadline is <strong>%s</strong> (day %d of the month). Please make sure all field submissions are reviewed before then.</p>",
			payload.ToName, deadline, s.cutoffDay),
	}
	return s.mail.Send(msg)
}
