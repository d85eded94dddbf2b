package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigWorkspaceNotSet is returned when the deployment aids are
	// needed but no config workspace was designated.
	ErrConfigWorkspaceNotSet = errors.New("config workspace not set")

	// ErrDeploymentAidMissing is returned when the config workspace lacks
	// the deployment aid dataset or report.
	ErrDeploymentAidMissing = errors.New("deployment aid not found")
)

// RefreshError is returned when a dataset refresh ends in any state other
// than Completed.
type RefreshError struct {
	Dataset string
	State   RefreshState
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh of dataset %q failed: %s", e.Dataset, e.State)
}
