package powerbi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cenkalti/backoff/v4"

	"github.com/hashicorp-forge/pbi/pkg/rest"
)

// Name conflict modes of an import.
const (
	NameConflictIgnore            = "Ignore"
	NameConflictCreateOrOverwrite = "CreateOrOverwrite"
)

// PublishRequest describes a PBIX upload.
type PublishRequest struct {
	// Name is the display name of the resulting dataset/report, without the
	// .pbix extension.
	Name string

	// FileName is sent as the multipart file name.
	FileName string

	// Content is the PBIX file.
	Content io.Reader

	// NameConflict is NameConflictIgnore (publish alongside existing items)
	// or NameConflictCreateOrOverwrite. Default: Ignore.
	NameConflict string

	// SkipReport suppresses creation of a report (publish the model only).
	SkipReport bool
}

// PublishResult holds the items created by a successful import.
type PublishResult struct {
	Datasets []Dataset
	Reports  []Report
}

var errStillPublishing = errors.New("import still publishing")

// Publish uploads a PBIX file to a workspace and waits until the import has
// finished. An import that does not succeed is returned as *ImportError.
func (c *Client) Publish(ctx context.Context, groupID string, req PublishRequest) (*PublishResult, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("publish %q: content is required", req.Name)
	}
	if req.NameConflict == "" {
		req.NameConflict = NameConflictIgnore
	}
	if req.FileName == "" {
		req.FileName = req.Name + ".pbix"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload of %s: %w", req.FileName, err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.FileName, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload of %s: %w", req.FileName, err)
	}

	q := url.Values{
		"datasetDisplayName": {req.Name + ".pbix"},
		"nameConflict":       {req.NameConflict},
	}
	if req.SkipReport {
		q.Set("skipReport", strconv.FormatBool(true))
	}

	var queued Import
	err = c.rest.Do(ctx, http.MethodPost, groupPath(groupID, "/imports"), nil, &queued,
		rest.Query(q), rest.Body(mw.FormDataContentType(), &buf))
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", req.FileName, err)
	}

	c.logger.Debug("import queued", "import", queued.ID, "name", req.Name, "skip_report", req.SkipReport)

	imp, err := c.waitForImport(ctx, groupID, queued.ID)
	if err != nil {
		return nil, err
	}

	result := &PublishResult{}
	for _, d := range imp.Datasets {
		ds, err := c.GetDataset(ctx, groupID, d.ID)
		if err != nil {
			return nil, err
		}
		result.Datasets = append(result.Datasets, *ds)
	}
	for _, r := range imp.Reports {
		rep, err := c.GetReport(ctx, groupID, r.ID)
		if err != nil {
			return nil, err
		}
		result.Reports = append(result.Reports, *rep)
	}

	return result, nil
}

// GetImport returns the status of an import.
func (c *Client) GetImport(ctx context.Context, groupID, importID string) (*Import, error) {
	var imp Import
	if err := c.rest.Do(ctx, http.MethodGet, groupPath(groupID, "/imports/%s", importID), nil, &imp); err != nil {
		return nil, fmt.Errorf("failed to get import %s: %w", importID, err)
	}
	return &imp, nil
}

func (c *Client) waitForImport(ctx context.Context, groupID, importID string) (*Import, error) {
	var imp *Import

	poll := func() error {
		var err error
		imp, err = c.GetImport(ctx, groupID, importID)
		if err != nil {
			return backoff.Permanent(err)
		}

		switch imp.ImportState {
		case ImportStateSucceeded:
			return nil
		case ImportStatePublishing:
			return errStillPublishing
		}

		importErr := &ImportError{ImportID: importID, State: imp.ImportState}
		if imp.Error != nil {
			importErr.Code = imp.Error.Code
			importErr.Message = imp.Error.Message
		}
		c.logger.Error("import failed", "import", importID, "code", importErr.Code, "message", importErr.Message)
		return backoff.Permanent(importErr)
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(c.importPollInterval), ctx)
	if err := backoff.Retry(poll, policy); err != nil {
		return nil, err
	}

	return imp, nil
}
