// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the commerce entities: users with their
// capability profiles, fish catches, and job postings.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// CreateUser inserts a user row. Phone is unique; a duplicate registration
// surfaces as ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, phone, name, language string) (*domain.User, error) {
	u := &domain.User{
		ID:       uuid.NewString(),
		Phone:    phone,
		Name:     name,
		Language: language,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUserByPhone fetches a user with capability profiles preloaded, or
// ErrNotFound.
func GetUserByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Preload("Seller").
		Preload("Employer").
		Where("phone = ?", phone).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AttachSellerProfile grants the seller capability to a user. A second
// attach for the same user is ErrDuplicate.
func AttachSellerProfile(ctx context.Context, db *gorm.DB, userID, boatName string) (*domain.SellerProfile, error) {
	p := &domain.SellerProfile{
		ID:       uuid.NewString(),
		UserID:   userID,
		BoatName: boatName,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// AttachEmployerProfile grants the employer capability to a user.
func AttachEmployerProfile(ctx context.Context, db *gorm.DB, userID, businessName string) (*domain.EmployerProfile, error) {
	p := &domain.EmployerProfile{
		ID:           uuid.NewString(),
		UserID:       userID,
		BusinessName: businessName,
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// CreateCatch inserts a new catch posting.
func CreateCatch(ctx context.Context, db *gorm.DB, c *domain.FishCatch) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.CatchAvailable
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetCatch fetches a catch by id, or ErrNotFound.
func GetCatch(ctx context.Context, db *gorm.DB, id string) (*domain.FishCatch, error) {
	var c domain.FishCatch
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ExpireCatches marks available catches whose availability window has
// passed. Returns the number of rows expired; the sweep calls this.
func ExpireCatches(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.FishCatch{}).
		Where("status = ? AND available_until IS NOT NULL AND available_until < ?",
			domain.CatchAvailable, now).
		Update("status", domain.CatchExpired)
	return res.RowsAffected, res.Error
}

// CreateJob inserts a new job posting in the open state.
func CreateJob(ctx context.Context, db *gorm.DB, j *domain.JobPosting) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = domain.JobOpen
	}
	return db.WithContext(ctx).Create(j).Error
}

// GetJob fetches a job posting by id, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.JobPosting, error) {
	var j domain.JobPosting
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// TransitionJob moves a job posting between states, guarded on the legal
// from-states for the target. It reports false when the job was not in a
// state the transition is legal from; a no-op failure, never an error.
func TransitionJob(ctx context.Context, db *gorm.DB, id string, to domain.JobStatus) (bool, error) {
	from := domain.JobStatesAllowing(to)
	if len(from) == 0 {
		return false, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.JobPosting{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
