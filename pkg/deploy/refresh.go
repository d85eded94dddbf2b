package deploy

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

const (
	// DefaultRefreshPollInterval is the wait between refresh history reads.
	DefaultRefreshPollInterval = 60 * time.Second

	// DefaultRefreshRetries is how often an empty refresh history is
	// re-read while waiting; the service lists a just-triggered refresh
	// with a delay.
	DefaultRefreshRetries = 5
)

// RefreshStatus classifies the most recent refresh of a dataset.
type RefreshStatus int

const (
	// RefreshNone means the refresh history is empty.
	RefreshNone RefreshStatus = iota
	// RefreshInProgress is the service's "Unknown" status.
	RefreshInProgress
	RefreshCompleted
	RefreshFailed
	// RefreshOther is any status the service reports that is not known
	// here, such as "Disabled". RefreshState.Raw holds it.
	RefreshOther
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshNone:
		return "none"
	case RefreshInProgress:
		return "in progress"
	case RefreshCompleted:
		return "completed"
	case RefreshFailed:
		return "failed"
	default:
		return "other"
	}
}

// RefreshState is the observed state of a dataset's latest refresh.
type RefreshState struct {
	Status RefreshStatus

	// Raw is the status string reported by the service.
	Raw string

	// Detail is the service exception payload of a failed refresh.
	Detail string

	// Duration is how long a completed refresh ran; zero when the service
	// reports no usable start and end times.
	Duration time.Duration
}

// IsCompleted reports whether the latest refresh finished successfully.
func (s RefreshState) IsCompleted() bool {
	return s.Status == RefreshCompleted
}

// String renders the state the way operators know it from the service: the
// exception payload for a failure and the raw status otherwise.
func (s RefreshState) String() string {
	switch s.Status {
	case RefreshNone:
		return "No refresh found"
	case RefreshFailed:
		if s.Detail != "" {
			return s.Detail
		}
	}
	return s.Raw
}

// RefreshMonitor reads and waits on dataset refreshes.
type RefreshMonitor struct {
	API RefreshHistory

	// PollInterval (default: 60s).
	PollInterval time.Duration

	// Retries is how often an empty history is re-read when waiting.
	// Zero means DefaultRefreshRetries; a negative value disables retries.
	Retries int

	// Sleep waits between reads (default: a timer honoring ctx).
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger (optional).
	Logger hclog.Logger
}

// State returns the state of a dataset's latest refresh.
//
// Without wait it reads the history once. With wait, an empty history is
// re-read up to Retries times, and a refresh in progress is re-read until it
// leaves that state, however long it takes. Cancel ctx to give up.
func (m *RefreshMonitor) State(ctx context.Context, groupID, datasetID string, wait bool) (RefreshState, error) {
	logger := m.logger().With("dataset", datasetID)
	retries := m.retries()

	for {
		latest, err := m.API.LatestRefresh(ctx, groupID, datasetID)
		if err != nil {
			return RefreshState{}, err
		}

		if latest == nil {
			if !wait || retries <= 0 {
				return RefreshState{Status: RefreshNone}, nil
			}
			logger.Info("no refresh found, trying again", "retries_remaining", retries)
			if err := m.sleep(ctx); err != nil {
				return RefreshState{}, err
			}
			retries--
			continue
		}

		switch latest.Status {
		case powerbi.RefreshStatusUnknown:
			if !wait {
				return RefreshState{Status: RefreshInProgress, Raw: latest.Status}, nil
			}
			logger.Debug("refresh in progress, waiting", "interval", m.interval())
			if err := m.sleep(ctx); err != nil {
				return RefreshState{}, err
			}
			retries = m.retries()

		case powerbi.RefreshStatusCompleted:
			state := RefreshState{Status: RefreshCompleted, Raw: latest.Status}
			if d, err := latest.Duration(); err != nil {
				logger.Debug("refresh duration unavailable", "error", err)
			} else {
				state.Duration = d
				logger.Debug("refresh completed", "duration", d)
			}
			return state, nil

		case powerbi.RefreshStatusFailed:
			return RefreshState{Status: RefreshFailed, Raw: latest.Status, Detail: latest.ServiceExceptionJSON}, nil

		default:
			return RefreshState{Status: RefreshOther, Raw: latest.Status}, nil
		}
	}
}

func (m *RefreshMonitor) retries() int {
	if m.Retries == 0 {
		return DefaultRefreshRetries
	}
	return m.Retries
}

func (m *RefreshMonitor) interval() time.Duration {
	if m.PollInterval <= 0 {
		return DefaultRefreshPollInterval
	}
	return m.PollInterval
}

func (m *RefreshMonitor) sleep(ctx context.Context) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, m.interval())
	}
	return sleepContext(ctx, m.interval())
}

func (m *RefreshMonitor) logger() hclog.Logger {
	if m.Logger == nil {
		return hclog.NewNullLogger()
	}
	return m.Logger
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
