package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
)

var ErrMembershipNotFound = errors.New("membership not found")

const membershipColumns = `
	id, product_id, parent_order_id, customer_email, customer_name,
	start_date, end_date, delayed_start_date, status,
	created_at, updated_at, deleted_at
`

type MembershipRepository struct {
	db DBTX
}

func NewMembershipRepository(db DBTX) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) Create(ctx context.Context, membership *entity.Membership) error {
	query := `
		INSERT INTO memberships (
			product_id, parent_order_id, customer_email, customer_name,
			start_date, end_date, delayed_start_date, status,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		membership.ProductID,
		membership.ParentOrderID,
		membership.CustomerEmail,
		membership.CustomerName,
		membership.StartDate,
		membership.EndDate,
		nullableTimeValue(membership.DelayedStartDate),
		membership.Status,
		membership.CreatedAt,
		membership.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	membership.ID = uint64(id)
	return nil
}

func (r *MembershipRepository) Update(ctx context.Context, membership *entity.Membership) error {
	query := `
		UPDATE memberships SET
			parent_order_id = ?,
			start_date = ?,
			end_date = ?,
			delayed_start_date = ?,
			status = ?,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		membership.ParentOrderID,
		membership.StartDate,
		membership.EndDate,
		nullableTimeValue(membership.DelayedStartDate),
		membership.Status,
		membership.UpdatedAt,
		membership.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (r *MembershipRepository) FindByID(ctx context.Context, id uint64) (*entity.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = ? AND deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (r *MembershipRepository) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = ? AND deleted_at IS NULL FOR UPDATE`
	return r.findOne(ctx, query, id)
}

func (r *MembershipRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Membership, error) {
	membership := &entity.Membership{}
	var delayedStart sql.NullTime
	var deletedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&membership.ID,
		&membership.ProductID,
		&membership.ParentOrderID,
		&membership.CustomerEmail,
		&membership.CustomerName,
		&membership.StartDate,
		&membership.EndDate,
		&delayedStart,
		&membership.Status,
		&membership.CreatedAt,
		&membership.UpdatedAt,
		&deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	membership.DelayedStartDate = timePtrFromNull(delayedStart)
	membership.DeletedAt = timePtrFromNull(deletedAt)
	return membership, nil
}
