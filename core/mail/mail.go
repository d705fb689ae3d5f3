/*
Package mail sends transactional emails through the Resend HTTP API.

Delivery is retried with exponential backoff and protected by a circuit breaker, so
an unavailable provider does not hold up every caller for the full retry sequence.
*/
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// DefaultEndpoint is the Resend API endpoint for sending emails
const DefaultEndpoint = "https://api.resend.com/emails"

// Email is a single HTML email
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Configuration contains the configuration of the mailer
type Configuration struct {
	APIKey   string
	From     string
	Endpoint string
	// Attempts is the total number of delivery attempts, defaults to 3
	Attempts int
	// RetryBase is the wait time before the first retry, doubled for every further
	// retry. Defaults to 2 seconds.
	RetryBase time.Duration
}

// Mailer sends emails
type Mailer struct {
	config     Configuration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
}

// New returns a new mailer
func New(config Configuration) *Mailer {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Attempts < 1 {
		config.Attempts = 3
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 2 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "resend",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var perm *backoff.PermanentError
			return err == nil || errors.As(err, &perm)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Default().Warnf("mail circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Mailer{
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    breaker,
	}
}

// Configured returns true if the mailer has an API key and a sender address
func (m *Mailer) Configured() bool {
	return m.config.APIKey != "" && m.config.From != ""
}

// Send delivers the email. It returns false and no error if the mailer is not configured,
// in which case the email is skipped. After the last failed attempt it returns false and
// the last error.
func (m *Mailer) Send(ctx context.Context, email Email) (bool, error) {
	rlog := logger.FromContext(ctx).WithFields(logrus.Fields{"to": email.To, "subject": email.Subject})
	if !m.Configured() {
		rlog.Warnln("Email service not configured, skipping email send")
		return false, nil
	}
	if email.From == "" {
		email.From = m.config.From
	}
	body, err := json.Marshal(email)
	if err != nil {
		return false, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.config.RetryBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	var id string
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		id, err = m.breaker.Execute(func() (string, error) {
			return m.post(ctx, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if err != nil {
			rlog.WithError(err).Debugf("email attempt %d failed", attempt)
		}
		return err
	}
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.config.Attempts-1)), ctx)
	if err := backoff.Retry(operation, retries); err != nil {
		rlog.WithError(err).Errorln("Failed to send email")
		return false, err
	}
	rlog.WithField("id", id).Infoln("Email sent successfully")
	return true, nil
}

// post makes one delivery attempt. Client errors other than rate limiting are permanent.
func (m *Mailer) post(ctx context.Context, body []byte) (string, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	r.Header.Set("Authorization", "Bearer "+m.config.APIKey)
	r.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(r)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))

	if res.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(resBody, &apiErr)
		err := fmt.Errorf("resend returned status %d: %s", res.StatusCode, apiErr.Message)
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	json.Unmarshal(resBody, &result)
	return result.ID, nil
}
