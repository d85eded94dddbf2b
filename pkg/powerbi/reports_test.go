package powerbi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
	"github.com/hashicorp-forge/pbi/pkg/powerbi/powerbitest"
)

func TestReports(t *testing.T) {
	ctx := context.Background()
	srv := powerbitest.NewServer(t)
	client := srv.PowerBI(t)
	ws := srv.AddWorkspace("Sales")

	model := srv.AddDataset(ws.ID, powerbi.Dataset{Name: "Sales Model"})
	other := srv.AddDataset(ws.ID, powerbi.Dataset{Name: "Other Model"})
	content := powerbitest.PBIX(t, map[string]string{"Report/Layout": "{}"})

	t.Run("Rebind", func(t *testing.T) {
		r := srv.AddReport(ws.ID, powerbi.Report{Name: "Overview", DatasetID: model.ID}, content)

		require.NoError(t, client.RebindReport(ctx, ws.ID, r.ID, other.ID))

		got, err := client.GetReport(ctx, ws.ID, r.ID)
		require.NoError(t, err)
		assert.Equal(t, other.ID, got.DatasetID)
	})

	t.Run("RebindUnknownDatasetFails", func(t *testing.T) {
		r := srv.AddReport(ws.ID, powerbi.Report{Name: "Detail", DatasetID: model.ID}, content)

		err := client.RebindReport(ctx, ws.ID, r.ID, "missing")
		require.Error(t, err)
	})

	t.Run("RenameReplacesReport", func(t *testing.T) {
		r := srv.AddReport(ws.ID, powerbi.Report{Name: "Old Name", DatasetID: model.ID}, content)

		renamed, err := client.RenameReport(ctx, ws.ID, r.ID, "New Name")
		require.NoError(t, err)
		assert.Equal(t, "New Name", renamed.Name)
		assert.NotEqual(t, r.ID, renamed.ID)
		assert.Equal(t, model.ID, renamed.DatasetID)

		old, err := client.FindReport(ctx, ws.ID, "Old Name")
		require.NoError(t, err)
		assert.Nil(t, old)
	})

	t.Run("Export", func(t *testing.T) {
		r := srv.AddReport(ws.ID, powerbi.Report{Name: "Exported", DatasetID: model.ID}, content)

		data, err := client.ExportReport(ctx, ws.ID, r.ID)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("DeleteMissingIsTolerated", func(t *testing.T) {
		r := srv.AddReport(ws.ID, powerbi.Report{Name: "Gone", DatasetID: model.ID}, content)

		require.NoError(t, client.DeleteReport(ctx, ws.ID, r.ID))
		require.NoError(t, client.DeleteReport(ctx, ws.ID, r.ID))
		assert.Equal(t, 2, srv.Count(http.MethodDelete, "/reports/"+r.ID))
	})
}
