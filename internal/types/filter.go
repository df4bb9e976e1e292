package types

import (
	"time"

	ierr "github.com/storyforge/metering/internal/errors"
)

// QueryFilter contains pagination and basic query parameters.
type QueryFilter struct {
	Limit  *int `json:"limit,omitempty" form:"limit"`
	Offset *int `json:"offset,omitempty" form:"offset"`
}

// GetLimit returns the limit, defaulting to 50.
func (f *QueryFilter) GetLimit() int {
	if f == nil || f.Limit == nil {
		return 50
	}
	return *f.Limit
}

// GetOffset returns the offset, defaulting to 0.
func (f *QueryFilter) GetOffset() int {
	if f == nil || f.Offset == nil {
		return 0
	}
	return *f.Offset
}

// TimeRangeFilter allows filtering by time period.
type TimeRangeFilter struct {
	StartTime *time.Time `json:"start_time,omitempty" form:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" form:"end_time"`
}

// Validate checks the range is well formed.
func (f *TimeRangeFilter) Validate() error {
	if f == nil || f.StartTime == nil || f.EndTime == nil {
		return nil
	}
	if f.EndTime.Before(*f.StartTime) {
		return ierr.NewError("end_time must not be before start_time").
			WithHint("Invalid time range").
			Mark(ierr.ErrValidation)
	}
	return nil
}
