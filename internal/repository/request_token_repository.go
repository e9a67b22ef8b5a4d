package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/model"
)

// RequestTokenRepo provides data access to the oauth_request_tokens
// table. The status column is the single-use guard for the handshake:
// both transitions are conditional UPDATEs keyed on the previous
// status, so concurrent calls on one token flip it at most once.
type RequestTokenRepo struct {
	db *sql.DB
}

// NewRequestTokenRepo returns a RequestTokenRepo bound to the provided database.
func NewRequestTokenRepo(db *sql.DB) *RequestTokenRepo { return &RequestTokenRepo{db: db} }

// Create inserts a freshly minted request token.
func (r *RequestTokenRepo) Create(ctx context.Context, t *model.RequestToken) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_request_tokens
		 (consumer_id, token_key, token_secret, callback, verifier,
		  access_key, access_secret, user_id, status, expires_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ConsumerID, t.TokenKey, t.TokenSecret, t.Callback, t.Verifier,
		t.AccessKey, t.AccessSecret, t.UserID, string(t.Status), t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return apperr.Storage(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage(err)
	}
	t.ID = uint64(id)
	return nil
}

// Get fetches a request token by consumer and key.
func (r *RequestTokenRepo) Get(ctx context.Context, consumerID uint64, key string) (*model.RequestToken, error) {
	var (
		t      model.RequestToken
		status string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, consumer_id, token_key, token_secret, callback, verifier,
		        access_key, access_secret, user_id, status, expires_at, created_at
		 FROM oauth_request_tokens WHERE consumer_id = ? AND token_key = ? LIMIT 1`,
		consumerID, key).Scan(&t.ID, &t.ConsumerID, &t.TokenKey, &t.TokenSecret,
		&t.Callback, &t.Verifier, &t.AccessKey, &t.AccessSecret, &t.UserID,
		&status, &t.ExpiresAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.E(apperr.KindInvalidRequestToken, "unknown request token")
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	t.Status = model.TokenStatus(status)
	return &t, nil
}

// Authorize flips the token ISSUED→AUTHORIZED, attaching the verifier
// and the provisional access credential, and writes the acceptance row
// in the same transaction. It returns false when the token was not in
// ISSUED state, i.e. another authorize won the race; the acceptance is
// then not written. A failure on either statement rolls back both, so
// the token stays ISSUED and the authorize leg can be retried whole.
func (r *RequestTokenRepo) Authorize(ctx context.Context, tokenID, userID uint64, verifier, accessKey, accessSecret string, acc *model.Acceptance) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Storage(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE oauth_request_tokens
		 SET status=?, user_id=?, verifier=?, access_key=?, access_secret=?
		 WHERE id=? AND status=?`,
		string(model.TokenAuthorized), userID, verifier, accessKey, accessSecret,
		tokenID, string(model.TokenIssued))
	if err != nil {
		return false, apperr.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err)
	}
	if n == 0 {
		return false, nil
	}
	if acc != nil {
		if err := upsertAcceptanceTx(ctx, tx, acc); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Storage(err)
	}
	return true, nil
}

// Exchange flips the token AUTHORIZED→EXCHANGED, killing it. It
// returns false when another redemption already consumed the token.
func (r *RequestTokenRepo) Exchange(ctx context.Context, tokenID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE oauth_request_tokens SET status=? WHERE id=? AND status=?`,
		string(model.TokenExchanged), tokenID, string(model.TokenAuthorized))
	if err != nil {
		return false, apperr.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err)
	}
	return n > 0, nil
}

// DeleteExpired removes never-exchanged tokens whose validity window
// passed before cutoff. The background sweeper calls this
// periodically; live traffic never depends on it because reads check
// expiry themselves.
func (r *RequestTokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_request_tokens WHERE expires_at <= ? AND status <> ?`,
		cutoff, string(model.TokenExchanged))
	if err != nil {
		return 0, apperr.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return n, nil
}
