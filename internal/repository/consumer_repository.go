package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/lifecycle"
	"github.com/provly/consumer-gateway/internal/model"
)

// ConsumerRepo provides data access to the oauth_consumers table. It
// implements lifecycle.ConsumerStore and the oauth engine's
// ConsumerSource.
type ConsumerRepo struct {
	db *sql.DB
}

// NewConsumerRepo returns a ConsumerRepo bound to the provided database.
func NewConsumerRepo(db *sql.DB) *ConsumerRepo { return &ConsumerRepo{db: db} }

const consumerCols = `id, consumer_key, secret_key, name, version, description,
	owner_user_id, email, wiki, callback_url, callback_is_prefix, rsa_key,
	grant_type, grants, restrictions, stage, stage_timestamp, deleted, owner_only`

// Create inserts a new consumer, optionally together with an
// acceptance for owner-only registrations, in one transaction. The
// duplicate-proposal check reads all same-name rows of the owner under
// an exclusive lock so two concurrent proposals cannot race past it;
// the unique key on (name, owner_user_id, version) catches anything
// the lock window misses.
func (r *ConsumerRepo) Create(ctx context.Context, c *model.Consumer, a *model.Acceptance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT version FROM oauth_consumers WHERE name = ? AND owner_user_id = ? FOR UPDATE`,
		c.Name, c.OwnerUserID)
	if err != nil {
		return apperr.Storage(err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return apperr.Storage(err)
		}
		if compareVersions(v, c.Version) >= 0 {
			rows.Close()
			return apperr.E(apperr.KindConsumerExists,
				"a consumer named "+c.Name+" already exists at version "+v)
		}
	}
	if err := rows.Close(); err != nil {
		return apperr.Storage(err)
	}

	grantsJSON, err := json.Marshal(c.Grants)
	if err != nil {
		return apperr.Storage(err)
	}
	restr, err := c.Restrictions.MarshalColumn()
	if err != nil {
		return apperr.Storage(err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO oauth_consumers
		 (consumer_key, secret_key, name, version, description, owner_user_id,
		  email, wiki, callback_url, callback_is_prefix, rsa_key, grant_type,
		  grants, restrictions, stage, stage_timestamp, deleted, owner_only)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ConsumerKey, c.SecretKey, c.Name, c.Version, c.Description, c.OwnerUserID,
		c.Email, c.Wiki, c.CallbackURL, c.CallbackIsPrefix, c.RSAKey, c.GrantType,
		string(grantsJSON), string(restr), string(c.Stage), c.StageTimestamp, c.Deleted, c.OwnerOnly)
	if err != nil {
		if isDuplicate(err) {
			return apperr.E(apperr.KindConsumerExists,
				"a consumer named "+c.Name+" already exists at version "+c.Version)
		}
		return apperr.Storage(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Storage(err)
	}
	c.ID = uint64(id)

	if a != nil {
		a.ConsumerID = c.ID
		if err := upsertAcceptanceTx(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// GetByKey fetches a consumer by its public key.
func (r *ConsumerRepo) GetByKey(ctx context.Context, key string) (*model.Consumer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+consumerCols+` FROM oauth_consumers WHERE consumer_key = ? LIMIT 1`, key)
	c, err := scanConsumer(row)
	if err == sql.ErrNoRows {
		return nil, apperr.E(apperr.KindInvalidConsumerKey, "no consumer with key "+key)
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return c, nil
}

// ListByOwner returns the owner's consumers, newest first. Suppressed
// records are included only when withSuppressed is set.
func (r *ConsumerRepo) ListByOwner(ctx context.Context, ownerID uint64, withSuppressed bool) ([]*model.Consumer, error) {
	q := `SELECT ` + consumerCols + ` FROM oauth_consumers WHERE owner_user_id = ?`
	if !withSuppressed {
		q += ` AND deleted = 0`
	}
	q += ` ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	var out []*model.Consumer
	for rows.Next() {
		c, err := scanConsumer(rows)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}

// Mutate persists updated only if the presented change token still
// matches the stored record (compare-and-swap) and at least one field
// differs. It returns whether a change was written, so callers can
// suppress no-op audit entries.
func (r *ConsumerRepo) Mutate(ctx context.Context, updated *model.Consumer, expectToken string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Storage(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+consumerCols+` FROM oauth_consumers WHERE id = ? FOR UPDATE`, updated.ID)
	current, err := scanConsumer(row)
	if err == sql.ErrNoRows {
		return false, apperr.E(apperr.KindInvalidConsumerKey, "consumer row vanished")
	}
	if err != nil {
		return false, apperr.Storage(err)
	}
	if !lifecycle.TokenEqual(expectToken, lifecycle.ChangeToken(current)) {
		return false, apperr.E(apperr.KindChangeConflict, "consumer was modified since it was read")
	}
	if lifecycle.ChangeToken(current) == lifecycle.ChangeToken(updated) &&
		current.StageTimestamp.Equal(updated.StageTimestamp) {
		// Nothing differs; succeed without writing.
		return false, tx.Commit()
	}

	grantsJSON, err := json.Marshal(updated.Grants)
	if err != nil {
		return false, apperr.Storage(err)
	}
	restr, err := updated.Restrictions.MarshalColumn()
	if err != nil {
		return false, apperr.Storage(err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE oauth_consumers SET
		 secret_key=?, description=?, rsa_key=?, grants=?, restrictions=?,
		 stage=?, stage_timestamp=?, deleted=?
		 WHERE id=?`,
		updated.SecretKey, updated.Description, updated.RSAKey, string(grantsJSON),
		string(restr), string(updated.Stage), updated.StageTimestamp, updated.Deleted,
		updated.ID)
	if err != nil {
		return false, apperr.Storage(err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Storage(err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsumer(row rowScanner) (*model.Consumer, error) {
	var (
		c          model.Consumer
		grantsJSON string
		restr      string
		stage      string
	)
	err := row.Scan(&c.ID, &c.ConsumerKey, &c.SecretKey, &c.Name, &c.Version,
		&c.Description, &c.OwnerUserID, &c.Email, &c.Wiki, &c.CallbackURL,
		&c.CallbackIsPrefix, &c.RSAKey, &c.GrantType, &grantsJSON, &restr,
		&stage, &c.StageTimestamp, &c.Deleted, &c.OwnerOnly)
	if err != nil {
		return nil, err
	}
	c.Stage = model.Stage(stage)
	if grantsJSON != "" {
		if err := json.Unmarshal([]byte(grantsJSON), &c.Grants); err != nil {
			return nil, err
		}
	}
	c.Restrictions, err = model.ParseRestrictions(restr)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// compareVersions orders two dot-separated version strings
// numerically segment by segment, falling back to string comparison
// for non-numeric segments. Missing segments count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		sa, sb := "0", "0"
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if sa != sb {
				if sa < sb {
					return -1
				}
				return 1
			}
		}
	}
	return 0
}
