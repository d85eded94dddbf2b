package powerbi

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// Workspace is a Power BI workspace (a "group" in the REST API).
type Workspace struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	IsReadOnly            bool   `json:"isReadOnly,omitempty"`
	IsOnDedicatedCapacity bool   `json:"isOnDedicatedCapacity,omitempty"`
	CapacityID            string `json:"capacityId,omitempty"`
}

// WorkspaceUser is a principal with access to a workspace.
type WorkspaceUser struct {
	Identifier           string `json:"identifier"`
	GroupUserAccessRight string `json:"groupUserAccessRight"`
	PrincipalType        string `json:"principalType,omitempty"`
	EmailAddress         string `json:"emailAddress,omitempty"`
	DisplayName          string `json:"displayName,omitempty"`
}

// Dataset is a published semantic model.
type Dataset struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	IsEffectiveIdentityRequired bool   `json:"isEffectiveIdentityRequired"`
	IsRefreshable               bool   `json:"isRefreshable,omitempty"`
	ConfiguredBy                string `json:"configuredBy,omitempty"`
	WebURL                      string `json:"webUrl,omitempty"`
}

// HasRLS reports whether the dataset enforces row-level security.
func (d Dataset) HasRLS() bool {
	return d.IsEffectiveIdentityRequired
}

// Report is a visualization bound to exactly one dataset.
type Report struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DatasetID string `json:"datasetId,omitempty"`
	WebURL    string `json:"webUrl,omitempty"`
	EmbedURL  string `json:"embedUrl,omitempty"`
}

// Datasource is a gateway-bound connection feeding a dataset.
// ConnectionDetails is a JSON document carrying either "server" or "url".
type Datasource struct {
	ID                string `json:"id"`
	GatewayID         string `json:"gatewayId"`
	DatasourceType    string `json:"datasourceType,omitempty"`
	DatasourceName    string `json:"datasourceName,omitempty"`
	CredentialType    string `json:"credentialType,omitempty"`
	ConnectionDetails string `json:"connectionDetails"`
}

// Parameter is a dataset parameter declared by the model.
type Parameter struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	IsRequired   bool   `json:"isRequired,omitempty"`
	CurrentValue string `json:"currentValue,omitempty"`
}

// ParameterUpdate sets one parameter value.
type ParameterUpdate struct {
	Name     string `json:"name"`
	NewValue string `json:"newValue"`
}

// Refresh statuses reported by the refresh history endpoint.
const (
	RefreshStatusUnknown   = "Unknown"
	RefreshStatusCompleted = "Completed"
	RefreshStatusFailed    = "Failed"
	RefreshStatusDisabled  = "Disabled"
)

// Refresh is one entry of a dataset's refresh history. Status "Unknown"
// means the refresh is still running.
type Refresh struct {
	ID                   int64  `json:"id,omitempty"`
	RequestID            string `json:"requestId,omitempty"`
	RefreshType          string `json:"refreshType,omitempty"`
	StartTime            string `json:"startTime,omitempty"`
	EndTime              string `json:"endTime,omitempty"`
	Status               string `json:"status"`
	ServiceExceptionJSON string `json:"serviceExceptionJson,omitempty"`
}

// Duration returns how long a finished refresh ran.
func (r Refresh) Duration() (time.Duration, error) {
	if r.StartTime == "" || r.EndTime == "" {
		return 0, fmt.Errorf("refresh %q has not finished", r.RequestID)
	}

	start, err := dateparse.ParseAny(r.StartTime)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh start time %q: %w", r.StartTime, err)
	}
	end, err := dateparse.ParseAny(r.EndTime)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh end time %q: %w", r.EndTime, err)
	}

	return end.Sub(start), nil
}

// Import states.
const (
	ImportStatePublishing = "Publishing"
	ImportStateSucceeded  = "Succeeded"
	ImportStateFailed     = "Failed"
)

// Import is the status of a file upload.
type Import struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	ImportState string            `json:"importState"`
	Datasets    []Dataset         `json:"datasets,omitempty"`
	Reports     []Report          `json:"reports,omitempty"`
	Error       *ImportErrorCause `json:"error,omitempty"`
}

// ImportErrorCause is the service error attached to a failed import.
type ImportErrorCause struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ImportError is returned when an import ends in any state other than
// Succeeded.
type ImportError struct {
	ImportID string
	State    string
	Code     string
	Message  string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s ended in state %s: %s (%s)", e.ImportID, e.State, e.Code, e.Message)
}

type valueList[T any] struct {
	Value []T `json:"value"`
}
