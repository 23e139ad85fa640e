package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	shortRetentionDays = 30
	longRetentionDays  = 90
)

// LogRetentionSweeper prunes the audit trail under a level-dependent
// policy: info and warning rows after 30 days, error rows after 90 days.
// Critical rows are never deleted.
type LogRetentionSweeper struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

type LogRetentionResult struct {
	RoutineDeleted int64 `json:"routine_deleted"`
	ErrorDeleted   int64 `json:"error_deleted"`
}

func (s *LogRetentionSweeper) Run(ctx context.Context) (*LogRetentionResult, error) {
	ctx = sweepContext(ctx)
	db := s.DB.WithContext(ctx)
	now := time.Now().UTC()
	shortCutoff := now.AddDate(0, 0, -shortRetentionDays)
	longCutoff := now.AddDate(0, 0, -longRetentionDays)

	routineLevels := []models.LogLevel{models.LogLevelInfo, models.LogLevelWarning}

	var routineCount, errorCount int64
	err := db.Model(&models.SystemLog{}).
		Where("level IN (?) AND created_at < ?", routineLevels, shortCutoff).
		Count(&routineCount).Error
	if err != nil {
		return nil, err
	}
	err = db.Model(&models.SystemLog{}).
		Where("level = ? AND created_at < ?", models.LogLevelError, longCutoff).
		Count(&errorCount).Error
	if err != nil {
		return nil, err
	}

	result := &LogRetentionResult{}
	if routineCount == 0 && errorCount == 0 {
		return result, nil
	}

	if routineCount > 0 {
		res := db.Where("level IN (?) AND created_at < ?", routineLevels, shortCutoff).
			Delete(&models.SystemLog{})
		if res.Error != nil {
			return nil, res.Error
		}
		result.RoutineDeleted = res.RowsAffected
	}
	if errorCount > 0 {
		res := db.Where("level = ? AND created_at < ?", models.LogLevelError, longCutoff).
			Delete(&models.SystemLog{})
		if res.Error != nil {
			return nil, res.Error
		}
		result.ErrorDeleted = res.RowsAffected
	}

	// The cleanup entry is info-level, so it ages out under the same 30-day
	// rule it reports on.
	if err := models.WriteSystemLog(db, nil, models.LogLevelInfo, "log_cleanup", result); err != nil {
		s.Logger.WithFields(logrus.Fields{
			"module":   "workflow",
			"funcName": "LogRetentionSweeper.Run",
		}).Warn("failed to write cleanup audit entry: " + err.Error())
	}
	return result, nil
}
