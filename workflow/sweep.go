package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RunGuarded executes one sweep. On failure the error is written to the
// audit log best-effort (a log failure never replaces the sweep error) and
// returned to the caller, which surfaces it as a 500 to the scheduler.
// Sweeps have no internal retry loop; the scheduler's next interval is the
// retry mechanism.
func RunGuarded(ctx context.Context, db *gorm.DB, logger *logrus.Logger, name string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result, err := fn(ctx)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"funcName": name,
		}).Error(err.Error())
		if logErr := models.WriteSystemLog(db, nil, models.LogLevelCritical, name+"_failed", map[string]interface{}{
			"error": err.Error(),
		}); logErr != nil {
			logger.WithFields(logrus.Fields{
				"module":   "workflow",
				"funcName": name,
			}).Warn("failed to write failure audit entry: " + logErr.Error())
		}
		return nil, err
	}
	return result, nil
}

// sweepContext returns a context the tenant guard ignores. Sweeps operate
// across every restaurant.
func sweepContext(ctx context.Context) context.Context {
	return utils.SetSkipTenantScopeInContext(ctx, true)
}
