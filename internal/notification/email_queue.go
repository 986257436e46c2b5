package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hubleticsdev/hubletics-web-sub003/internal/metrics"
)

const (
	queueKey       = "emails"
	failedQueueKey = "emails:failed"
	maxTries       = 3
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Mailer accepts an email for delivery.
type Mailer interface {
	SendEmail(ctx context.Context, msg Message) error
}

// Sender delivers an email synchronously.
type Sender interface {
	Send(msg Message) error
}

type emailJob struct {
	Message
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

// EmailQueue is a Redis list backed Mailer with a worker that drains it.
type EmailQueue struct {
	redis      *redis.Client
	sender     Sender
	logger     *zap.Logger
	retryDelay time.Duration
	// errorBackoff is the pause after a failed queue read.
	errorBackoff time.Duration
}

func NewEmailQueue(rdb *redis.Client, sender Sender, logger *zap.Logger) *EmailQueue {
	return &EmailQueue{
		redis:        rdb,
		sender:       sender,
		logger:       logger,
		retryDelay:   5 * time.Second,
		errorBackoff: time.Second,
	}
}

func (q *EmailQueue) SendEmail(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("email recipient is empty")
	}
	data, err := json.Marshal(emailJob{Message: msg, Created: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	if err := q.redis.LPush(ctx, queueKey, string(data)).Err(); err != nil {
		return fmt.Errorf("queue email: %w", err)
	}

	q.logger.Debug("Email queued", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// Start drains the queue until ctx is cancelled.
func (q *EmailQueue) Start(ctx context.Context) {
	q.logger.Info("Email worker started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Email worker stopped")
			return
		default:
			q.processNext(ctx)
		}
	}
}

func (q *EmailQueue) processNext(ctx context.Context) {
	result, err := q.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		// Idle; refresh the backlog gauge.
		q.QueueLength(ctx)
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		q.logger.Error("Failed to read email queue", zap.Error(err))
		pause(ctx, q.errorBackoff)
		return
	}

	var job emailJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Error("Bad email job", zap.Error(err))
		return
	}

	job.Tries++
	if err := q.sender.Send(job.Message); err != nil {
		q.logger.Warn("Email delivery failed",
			zap.String("to", job.To),
			zap.Int("attempt", job.Tries),
			zap.Error(err),
		)
		if job.Tries < maxTries {
			pause(ctx, q.retryDelay)
			data, _ := json.Marshal(job)
			q.redis.LPush(ctx, queueKey, string(data))
			return
		}
		q.saveFailed(ctx, job, err)
		return
	}

	metrics.RecordNotification("email", "delivered")
	q.logger.Info("Email sent", zap.String("to", job.To), zap.String("subject", job.Subject))
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *EmailQueue) saveFailed(ctx context.Context, job emailJob, cause error) {
	failed := map[string]any{
		"job":   job,
		"error": cause.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	q.redis.LPush(ctx, failedQueueKey, string(data))

	metrics.RecordNotification("email", "dead_lettered")
	q.logger.Error("Email moved to failed queue", zap.String("to", job.To), zap.Int("tries", job.Tries))
}

func (q *EmailQueue) QueueLength(ctx context.Context) int64 {
	length, _ := q.redis.LLen(ctx, queueKey).Result()
	metrics.EmailQueueLength.Set(float64(length))
	return length
}

// SMTPSender sends multipart/alternative mail through an SMTP relay.
type SMTPSender struct {
	Host     string
	Port     string
	User     string
	Pass     string
	From     string
	FromName string
}

func (s *SMTPSender) Send(msg Message) error {
	var auth smtp.Auth
	if s.User != "" && s.Pass != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}
	return smtp.SendMail(s.Host+":"+s.Port, auth, s.From, []string{msg.To}, s.build(msg))
}

func (s *SMTPSender) build(msg Message) []byte {
	boundary := strings.ReplaceAll(uuid.NewString(), "-", "")

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.FromName, s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.Text)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return []byte(b.String())
}

// LogSender writes mail to the log instead of sending it. Used when no SMTP
// relay is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(msg Message) error {
	s.Logger.Info("Email (not sent, SMTP disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
