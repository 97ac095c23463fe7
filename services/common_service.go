package services

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/repository"
	"github.com/payva/go-payva-auth/types"
)

// expiredView is the shape of the "old records" design view used for sweeps.
type expiredView struct {
	TotalRows int64        `json:"total_rows"`
	Offset    int64        `json:"offset"`
	Rows      []expiredRow `json:"rows"`
}

type expiredRow struct {
	ID      string `json:"id"`
	Created int64  `json:"key"`   // key is created timestamp
	Rev     string `json:"value"` // value is _rev which is needed for deletion
}

// sweepExpired loops and bulk deletes records older than the cutoff until the
// design view returns no more rows.
func sweepExpired(repo repository.Repository, designName, viewName string, cutoffMillis int64) {
	totalRows := int64(1) // start value to enter the loop
	for totalRows > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)

		query := fmt.Sprintf("_design/%s/_view/%s?descending=true&startkey=%d&limit=100", url.PathEscape(designName), url.PathEscape(viewName), cutoffMillis)
		response, err := repo.GetByID(ctx, query)
		if err != nil {
			if err != types.ErrNotFound {
				level.Error(global.Logger).Log("msg", "failed to list expired records", "db", repo.GetDBName(), "error", err)
			}
			cancel()
			return
		}

		var expired expiredView
		if mErr := repository.MapToObject(response, &expired); mErr != nil {
			level.Error(global.Logger).Log("msg", "failed to map expired records", "db", repo.GetDBName(), "error", mErr)
			cancel()
			return
		}
		if len(expired.Rows) > 0 {
			bulkDelete := []types.BaseDocument{}
			for _, row := range expired.Rows {
				bulkDelete = append(bulkDelete, types.BaseDocument{
					UnderscoreID:  row.ID,
					UnderscoreRev: row.Rev,
					Deleted:       true,
				})
			}
			bulkDeleteDocument := map[string]interface{}{
				"docs": bulkDelete,
			}
			c := repo.GetClient().(*resty.Client)
			bulkResp, bulkErr := c.R().SetContext(ctx).SetBody(bulkDeleteDocument).Post(fmt.Sprintf("%s/_bulk_docs", repo.GetDBName()))
			if bulkErr != nil || bulkResp.IsError() {
				level.Error(global.Logger).Log("msg", "failed to delete expired records", "db", repo.GetDBName(), "error", bulkErr)
				cancel()
				return
			}
		}
		totalRows = int64(len(expired.Rows))
		cancel()
	}
}
