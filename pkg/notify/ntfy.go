// Package notify announces deployments through an ntfy server.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/deploy"
	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// DefaultServerURL is the public ntfy server.
const DefaultServerURL = "https://ntfy.sh"

// Priorities understood by ntfy.
const (
	PriorityLow     = 1
	PriorityDefault = 3
	PriorityUrgent  = 5
)

// Message is one push notification.
type Message struct {
	Title    string
	Body     string
	Priority int
	Tags     []string

	// Click is opened when the notification is tapped (optional).
	Click string
}

// Config configures an Ntfy notifier.
type Config struct {
	// ServerURL (default: https://ntfy.sh).
	ServerURL string

	// Topic is the ntfy topic notifications are posted to.
	Topic string

	// Timeout for HTTP requests (default: 10s).
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout (optional).
	HTTPClient *http.Client

	// MaxRetries is how often a retryable failure is retried (default: 0).
	MaxRetries int

	// RetryDelay is the initial backoff between retries (default: 1s).
	RetryDelay time.Duration

	// Logger (optional).
	Logger hclog.Logger
}

// Ntfy posts messages to one ntfy topic.
type Ntfy struct {
	url        string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     hclog.Logger
}

// New creates an Ntfy notifier.
func New(cfg Config) (*Ntfy, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("ntfy topic is required")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("ntfy max retries must not be negative")
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Ntfy{
		url:        strings.TrimRight(cfg.ServerURL, "/") + "/" + cfg.Topic,
		client:     cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.Named("notify"),
	}, nil
}

// Send posts msg. Retryable failures are retried with exponential backoff
// up to MaxRetries times; the last failure is returned as a *SendError.
func (n *Ntfy) Send(ctx context.Context, msg Message) error {
	operation := func() error {
		err := n.send(ctx, msg)
		var sendErr *SendError
		if errors.As(err, &sendErr) && sendErr.Retryable {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.retryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(n.maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		n.logger.Debug("retrying notification", "title", msg.Title, "wait", wait, "error", err)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

func (n *Ntfy) send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("failed to create ntfy request: %w", err)
	}

	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	priority := msg.Priority
	if priority == 0 {
		priority = PriorityDefault
	}
	req.Header.Set("Priority", strconv.Itoa(priority))
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.Click != "" {
		req.Header.Set("Click", msg.Click)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return &SendError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("ntfy request failed with status %d", resp.StatusCode),
		}
	}

	n.logger.Debug("sent notification", "title", msg.Title)
	return nil
}

// ReportHook announces every published report, linking to it.
func (n *Ntfy) ReportHook() deploy.ReportHook {
	return deploy.ReportHookFunc(func(ctx context.Context, r powerbi.Report, vars map[string]string) error {
		body := fmt.Sprintf("Report %q was published", r.Name)
		if prefix := vars["prefix"]; prefix != "" {
			body += fmt.Sprintf(" for %s", prefix)
		}
		return n.Send(ctx, Message{
			Title: "Power BI report published",
			Body:  body,
			Tags:  []string{"bar_chart"},
			Click: r.WebURL,
		})
	})
}

// Deployment announces the outcome of a deployment. A failed deployment is
// sent with urgent priority.
func (n *Ntfy) Deployment(ctx context.Context, workspace string, result *deploy.Result, deployErr error) error {
	msg := Message{
		Title:    "Power BI deployment to " + workspace,
		Priority: PriorityDefault,
		Tags:     []string{"white_check_mark"},
	}

	var b strings.Builder
	if result != nil {
		fmt.Fprintf(&b, "Dataset %q", result.Dataset.Name)
		if result.Refreshed {
			b.WriteString(" refreshed")
		}
		fmt.Fprintf(&b, ", %d report(s) published", len(result.Reports))
	}
	if deployErr != nil {
		msg.Priority = PriorityUrgent
		msg.Tags = []string{"rotating_light"}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Failed: %v", deployErr)
	}
	msg.Body = b.String()

	return n.Send(ctx, msg)
}

// SendError is a failed notification.
type SendError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("ntfy send failed (%s): %v", kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// 5xx, 429 and 408 may succeed later; other 4xx will not.
func retryableStatus(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}
