package db

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Flag lifecycle states. Terminal states never transition again.
const (
	StatusUnsubmitted  = "unsubmitted"
	StatusSubmitted    = "submitted"
	StatusAccepted     = "accepted"
	StatusDenied       = "denied"
	StatusResubmit     = "resubmit"
	StatusErrored      = "errored"
	StatusErroredFinal = "errored_final"
	StatusExpired      = "expired"
)

// ErrDuplicateFlag is returned when a flag code is already known to the store.
var ErrDuplicateFlag = errors.New("duplicate flag code")

// TerminalStatuses lists states a flag can never leave.
var TerminalStatuses = []string{StatusAccepted, StatusDenied, StatusErroredFinal, StatusExpired}

type FlagSchema struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Code         string `gorm:"unique" json:"flag_code"`
	TeamID       uint   `json:"team_id"`
	ServiceName  string `json:"service_name"`
	ServicePort  int    `json:"service_port"`
	SubmitTime   int64  `json:"submit_time"`   // epoch seconds the flag became eligible
	ResponseTime int64  `json:"response_time"` // epoch seconds of the last checker verdict
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	Message      string `json:"msg,omitempty"` // last human-readable checker message
}

// CreateFlag inserts a single flag. A duplicate code is rejected with
// ErrDuplicateFlag, mirroring the checker's own "already claimed" rule.
func CreateFlag(flag FlagSchema) (FlagSchema, error) {
	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	if flag.Status == "" {
		flag.Status = StatusUnsubmitted
	}
	result := db.Table("flag_schemas").Create(&flag)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return FlagSchema{}, fmt.Errorf("%w: %s", ErrDuplicateFlag, flag.Code)
		}
		return FlagSchema{}, result.Error
	}
	return flag, nil
}

// CreateFlags inserts a batch. Duplicates are isolated per flag and reported
// back instead of aborting the whole batch.
func CreateFlags(flags []FlagSchema) (inserted int, duplicates []string, err error) {
	for _, flag := range flags {
		if _, err := CreateFlag(flag); err != nil {
			if errors.Is(err, ErrDuplicateFlag) {
				duplicates = append(duplicates, flag.Code)
				continue
			}
			return inserted, duplicates, err
		}
		inserted++
	}
	return inserted, duplicates, nil
}

// GetFlag fetches one flag by id.
func GetFlag(id string) (FlagSchema, error) {
	var flag FlagSchema
	result := db.Table("flag_schemas").Where("id = ?", id).First(&flag)
	if result.Error != nil {
		return FlagSchema{}, result.Error
	}
	return flag, nil
}

// GetPagedFlags returns flags ordered by submit time for the API listing.
func GetPagedFlags(limit uint, offset uint) ([]FlagSchema, error) {
	var flags []FlagSchema
	result := db.Table("flag_schemas").Order("submit_time").Limit(int(limit)).Offset(int(offset)).Find(&flags)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return flags, nil
		}
		return nil, result.Error
	}
	return flags, nil
}

// GetEligibleFlags returns flags due for (re)submission, oldest first so no
// flag starves behind newer ones. Flags past their lifetime are excluded; the
// expiry sweep retires them separately. limit of 0 means no limit.
func GetEligibleFlags(now int64, lifetime int, attemptCap int, limit int) ([]FlagSchema, error) {
	var flags []FlagSchema
	query := db.Table("flag_schemas").
		Where("(status IN ? OR (status = ? AND attempts < ?)) AND submit_time <= ? AND submit_time + ? > ?",
			[]string{StatusUnsubmitted, StatusResubmit}, StatusErrored, attemptCap, now, lifetime, now).
		Order("submit_time")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&flags)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return flags, nil
		}
		return nil, result.Error
	}
	return flags, nil
}

// CompareAndSetStatus atomically moves a flag from one status to another.
// Returns false when the flag was not in the expected status, which callers
// treat as losing the race (e.g. an expiry sweep got there first).
func CompareAndSetStatus(id string, from string, to string) (bool, error) {
	result := db.Table("flag_schemas").Where("id = ? AND status = ?", id, from).Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ResolveFlag finalizes a submitted flag with a checker verdict that does not
// touch the attempt counter (accepted, denied, resubmit).
func ResolveFlag(id string, status string, responseTime int64, msg string) (bool, error) {
	result := db.Table("flag_schemas").Where("id = ? AND status = ?", id, StatusSubmitted).
		Updates(map[string]any{"status": status, "response_time": responseTime, "message": msg})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkErrored records a transient checker failure for a submitted flag,
// bumping the attempt counter. Once the counter reaches the cap the flag is
// retired to errored_final and never retried.
func MarkErrored(id string, attemptCap int, responseTime int64, msg string) (string, error) {
	newStatus := ""
	err := db.Transaction(func(tx *gorm.DB) error {
		var flag FlagSchema
		if err := tx.Table("flag_schemas").Where("id = ?", id).First(&flag).Error; err != nil {
			return err
		}

		next := StatusErrored
		if flag.Attempts+1 >= attemptCap {
			next = StatusErroredFinal
		}

		result := tx.Table("flag_schemas").Where("id = ? AND status = ?", id, StatusSubmitted).
			Updates(map[string]any{
				"status":        next,
				"attempts":      gorm.Expr("attempts + 1"),
				"response_time": responseTime,
				"message":       msg,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			newStatus = next
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newStatus, nil
}

// ExpireOverdue sweeps every non-terminal flag past its lifetime into the
// expired pseudo-state. Returns how many flags were retired.
func ExpireOverdue(now int64, lifetime int) (int64, error) {
	result := db.Table("flag_schemas").
		Where("status NOT IN ? AND submit_time + ? <= ?", TerminalStatuses, lifetime, now).
		Update("status", StatusExpired)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountFlagsByStatus returns how many flags sit in each lifecycle state.
func CountFlagsByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	result := db.Table("flag_schemas").Select("status, COUNT(*) as count").Group("status").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ResetFlags wipes the flag table. Used by tests and the admin reset API.
func ResetFlags() error {
	// https://gorm.io/docs/delete.html#Block-Global-Delete
	return db.Table("flag_schemas").Where("1 = 1").Delete(&FlagSchema{}).Error
}
