package domain

import (
	"time"

	"gorm.io/gorm"
)

// User is the account aggregate behind a phone number. Capabilities are
// modeled as optional profile references: a user is a seller iff a
// SellerProfile row exists for them, checked by presence rather than by
// inferred type.
type User struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Phone     string         `json:"phone"      gorm:"type:varchar(32);not null;uniqueIndex:ux_user_phone"`
	Name      string         `json:"name"       gorm:"type:varchar(120);not null"`
	Language  string         `json:"language"   gorm:"type:varchar(8);not null;default:'en'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	Seller   *SellerProfile   `json:"seller,omitempty"   gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Employer *EmployerProfile `json:"employer,omitempty" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// IsSeller reports whether a seller profile is attached. Callers must load
// the association first.
func (u *User) IsSeller() bool { return u.Seller != nil }

// IsEmployer reports whether an employer profile is attached.
func (u *User) IsEmployer() bool { return u.Employer != nil }

// SellerProfile marks a user as a fish seller.
type SellerProfile struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"   gorm:"type:char(36);not null;uniqueIndex:ux_seller_user"`
	BoatName  string         `json:"boat_name" gorm:"type:varchar(120)"`
	HarborLat float64        `json:"harbor_lat"`
	HarborLng float64        `json:"harbor_lng"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for SellerProfile.
func (SellerProfile) TableName() string { return "seller_profiles" }

// EmployerProfile marks a user as a job-marketplace employer.
type EmployerProfile struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string         `json:"user_id"       gorm:"type:char(36);not null;uniqueIndex:ux_employer_user"`
	BusinessName string         `json:"business_name" gorm:"type:varchar(120)"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`
}

// TableName returns the database table name for EmployerProfile.
func (EmployerProfile) TableName() string { return "employer_profiles" }

// JobStatus is the lifecycle state of a job posting.
type JobStatus string

// Job posting states.
const (
	JobOpen       JobStatus = "open"
	JobAssigned   JobStatus = "assigned"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// jobTransitions enumerates the legal posting edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobOpen:       {JobAssigned, JobCancelled},
	JobAssigned:   {JobInProgress, JobCancelled},
	JobInProgress: {JobCompleted, JobCancelled},
}

// CanTransition reports whether moving from s to next is legal. Completing a
// job that is not in progress is a no-op failure for the caller, never a
// crash.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range jobTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// JobStatesAllowing returns the states from which a transition to next is
// legal. Used by the storage layer to guard transition UPDATEs.
func JobStatesAllowing(next JobStatus) []JobStatus {
	var from []JobStatus
	for s, nexts := range jobTransitions {
		for _, n := range nexts {
			if n == next {
				from = append(from, s)
			}
		}
	}
	return from
}

// JobPosting is a short-term work offer posted through the job flow.
type JobPosting struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	EmployerID string         `json:"employer_id" gorm:"type:char(36);not null;index"`
	WorkerID   *string        `json:"worker_id,omitempty" gorm:"type:char(36);index"`
	Title      string         `json:"title"       gorm:"type:varchar(200);not null"`
	PayAmount  float64        `json:"pay_amount"  gorm:"not null"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Status     JobStatus      `json:"status"      gorm:"type:varchar(16);not null;default:'open';index"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for JobPosting.
func (JobPosting) TableName() string { return "job_postings" }
