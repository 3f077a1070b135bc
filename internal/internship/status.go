package internship

import (
	"errors"
	"fmt"
)

// ApplicationStatus 是实习申请的状态。
type ApplicationStatus string

const (
	StatusPending            ApplicationStatus = "pending"
	StatusFacultyApproved    ApplicationStatus = "faculty_approved"
	StatusFacultyRejected    ApplicationStatus = "faculty_rejected"
	StatusCompanyShortlisted ApplicationStatus = "company_shortlisted"
	StatusCompanyRejected    ApplicationStatus = "company_rejected"
	StatusHired              ApplicationStatus = "hired"
)

var (
	ErrInvalidTransition = errors.New("invalid application status transition")
	ErrInvalidAction     = errors.New("action must be 'approve' or 'reject'")
	ErrInvalidStatus     = errors.New("invalid status")
)

// transitions 列出每个状态允许进入的下一状态；终态没有出边。
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusPending:            {StatusFacultyApproved, StatusFacultyRejected},
	StatusFacultyApproved:    {StatusCompanyShortlisted, StatusCompanyRejected, StatusHired},
	StatusCompanyShortlisted: {StatusCompanyRejected, StatusHired},
}

// Valid 判断是否为已知状态。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFacultyApproved, StatusFacultyRejected,
		StatusCompanyShortlisted, StatusCompanyRejected, StatusHired:
		return true
	}
	return false
}

// Terminal 判断状态是否已结束。
func (s ApplicationStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Transition 校验 from -> to 是否合法。
func Transition(from, to ApplicationStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidStatus, from, to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// FacultyDecision 将教师操作映射为目标状态，以及审批记录中的状态（approved/rejected）。
func FacultyDecision(action string) (ApplicationStatus, string, error) {
	switch action {
	case "approve":
		return StatusFacultyApproved, "approved", nil
	case "reject":
		return StatusFacultyRejected, "rejected", nil
	}
	return "", "", ErrInvalidAction
}

// CompanyDecision 校验企业可以设置的状态。
func CompanyDecision(status string) (ApplicationStatus, error) {
	switch s := ApplicationStatus(status); s {
	case StatusCompanyShortlisted, StatusCompanyRejected, StatusHired:
		return s, nil
	}
	return "", ErrInvalidStatus
}

// InternshipStatus 是岗位的发布状态。
type InternshipStatus string

const (
	InternshipDraft   InternshipStatus = "draft"
	InternshipActive  InternshipStatus = "active"
	InternshipPaused  InternshipStatus = "paused"
	InternshipClosed  InternshipStatus = "closed"
	InternshipExpired InternshipStatus = "expired"
)

// Valid 判断是否为已知岗位状态。
func (s InternshipStatus) Valid() bool {
	switch s {
	case InternshipDraft, InternshipActive, InternshipPaused, InternshipClosed, InternshipExpired:
		return true
	}
	return false
}

// LocationType 表示办公方式。
type LocationType string

const (
	LocationRemote LocationType = "remote"
	LocationOnsite LocationType = "onsite"
	LocationHybrid LocationType = "hybrid"
)

// Valid 判断是否为已知办公方式。
func (l LocationType) Valid() bool {
	switch l {
	case LocationRemote, LocationOnsite, LocationHybrid:
		return true
	}
	return false
}

// Role 表示账号角色。
type Role string

const (
	RoleStudent Role = "student"
	RoleCompany Role = "company"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// ParseRole 未知或为空的角色一律视为学生。
func ParseRole(value string) Role {
	switch r := Role(value); r {
	case RoleStudent, RoleCompany, RoleFaculty, RoleAdmin:
		return r
	}
	return RoleStudent
}
