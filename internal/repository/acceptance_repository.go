package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/model"
)

// AcceptanceRepo provides data access to the oauth_acceptances table.
type AcceptanceRepo struct {
	db *sql.DB
}

// NewAcceptanceRepo returns an AcceptanceRepo bound to the provided database.
func NewAcceptanceRepo(db *sql.DB) *AcceptanceRepo { return &AcceptanceRepo{db: db} }

// Upsert writes the acceptance for (user, consumer, wiki), replacing
// the credential and grant set in place when a live acceptance already
// exists. The unique key on those three columns keeps one row per
// grant.
func (r *AcceptanceRepo) Upsert(ctx context.Context, a *model.Acceptance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertAcceptanceTx(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// upsertAcceptanceTx is shared with ConsumerRepo.Create so owner-only
// proposals can write consumer and acceptance atomically.
func upsertAcceptanceTx(ctx context.Context, tx *sql.Tx, a *model.Acceptance) error {
	grantsJSON, err := json.Marshal(a.Grants)
	if err != nil {
		return apperr.Storage(err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO oauth_acceptances
		 (user_id, consumer_id, wiki, access_key, access_secret_hash, grants, accepted, oauth_version)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		 access_key=VALUES(access_key), access_secret_hash=VALUES(access_secret_hash),
		 grants=VALUES(grants), accepted=VALUES(accepted), oauth_version=VALUES(oauth_version)`,
		a.UserID, a.ConsumerID, a.Wiki, a.AccessKey, a.AccessSecretHash,
		string(grantsJSON), a.Accepted, a.OAuthVersion)
	if err != nil {
		return apperr.Storage(err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		a.ID = uint64(id)
	}
	return nil
}
