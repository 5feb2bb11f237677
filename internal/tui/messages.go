package tui

import (
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
)

// jobLoadedMsg carries everything the review screen shows.
type jobLoadedMsg struct {
	err    error
	job    *service.JobRecord
	audit  []model.AuditEntry
	errors []model.UnitError
}
