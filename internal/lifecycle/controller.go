// Package lifecycle implements the consumer lifecycle state machine:
// proposal, update, approval, rejection, disabling and re-enabling of
// registered applications. All mutation funnels through a single
// guarded submit path driven by an explicit transition table, with the
// optimistic-concurrency token making every stage change a
// compare-and-swap against storage.
package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/grants"
	"github.com/provly/consumer-gateway/internal/model"
	"github.com/provly/consumer-gateway/internal/utils"
)

// Action names a lifecycle operation.
type Action string

const (
	ActionPropose  Action = "propose"
	ActionUpdate   Action = "update"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionDisable  Action = "disable"
	ActionReenable Action = "reenable"
)

// ConsumerStore is the registry persistence contract the controller
// drives. Create performs the duplicate-proposal check under a row
// lock and, when an acceptance is supplied, writes both records in one
// transaction. Mutate persists the updated record only if the
// presented change token still matches the stored state (reporting
// change_conflict otherwise) and only if at least one field actually
// differs, returning whether a change occurred.
type ConsumerStore interface {
	Create(ctx context.Context, c *model.Consumer, a *model.Acceptance) error
	GetByKey(ctx context.Context, key string) (*model.Consumer, error)
	Mutate(ctx context.Context, updated *model.Consumer, expectToken string) (bool, error)
}

// AcceptanceStore persists user-consumer grants. Upsert replaces the
// live acceptance for (user, consumer, wiki) when one already exists.
type AcceptanceStore interface {
	Upsert(ctx context.Context, a *model.Acceptance) error
}

// AuditSink records lifecycle actions for the audit trail. Failures
// are logged by the controller and never surface to the caller.
type AuditSink interface {
	RecordAction(ctx context.Context, consumerKey string, action Action, performer, comment string) error
}

// Notifier delivers user-facing notifications about lifecycle
// actions. Best-effort, same as AuditSink.
type Notifier interface {
	Notify(ctx context.Context, consumerKey string, action Action, performer, comment string) error
}

// Controller orchestrates lifecycle actions: permission gate, state
// machine precondition, field mutation, persistence, then audit and
// notification.
type Controller struct {
	consumers   ConsumerStore
	acceptances AcceptanceStore
	caps        Capabilities
	catalog     *grants.Catalog
	audit       AuditSink
	notify      Notifier
	readOnly    bool
	now         func() time.Time
}

// NewController wires a controller from its collaborators. audit and
// notify may be nil, which disables the corresponding sink.
func NewController(cs ConsumerStore, as AcceptanceStore, caps Capabilities, catalog *grants.Catalog, audit AuditSink, notify Notifier, readOnly bool) *Controller {
	return &Controller{
		consumers:   cs,
		acceptances: as,
		caps:        caps,
		catalog:     catalog,
		audit:       audit,
		notify:      notify,
		readOnly:    readOnly,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// transition describes one row of the state machine table: the stages
// an action may start from, the stage it lands in, and the error kind
// reported when the source stage does not qualify.
type transition struct {
	sources  map[model.Stage]bool
	target   model.Stage
	stageErr apperr.Kind
	cap      Capability
}

var transitions = map[Action]transition{
	ActionUpdate: {
		sources:  map[model.Stage]bool{model.StageProposed: true, model.StageApproved: true},
		target:   "", // stage unchanged
		stageErr: apperr.KindNotProposed,
		cap:      CapUpdateOwn,
	},
	ActionApprove: {
		sources:  map[model.Stage]bool{model.StageProposed: true, model.StageExpired: true, model.StageRejected: true},
		target:   model.StageApproved,
		stageErr: apperr.KindNotProposed,
		cap:      CapManage,
	},
	ActionReject: {
		sources:  map[model.Stage]bool{model.StageProposed: true},
		target:   model.StageRejected,
		stageErr: apperr.KindNotProposed,
		cap:      CapManage,
	},
	ActionDisable: {
		sources:  map[model.Stage]bool{model.StageApproved: true},
		target:   model.StageDisabled,
		stageErr: apperr.KindNotApproved,
		cap:      CapManage,
	},
	ActionReenable: {
		sources:  map[model.Stage]bool{model.StageDisabled: true},
		target:   model.StageApproved,
		stageErr: apperr.KindNotDisabled,
		cap:      CapManage,
	},
}

// IssuedToken is a freshly minted credential returned to the caller
// exactly once; only its hash is retained in storage.
type IssuedToken struct {
	Key    string
	Secret string
}

// ProposeInput carries the field values for a new registration.
// Syntactic validation (URL shape, email syntax, version format, RSA
// key parseability) happens before these values reach the controller.
type ProposeInput struct {
	Name             string
	Version          string
	Description      string
	Email            string
	Wiki             string
	CallbackURL      string
	CallbackIsPrefix bool
	RSAKey           string
	GrantType        string
	Grants           []string
	Restrictions     model.Restrictions
	OwnerOnly        bool
}

// ProposeResult reports the created consumer, its secret (shown
// once), and for owner-only consumers the auto-issued access token.
type ProposeResult struct {
	Consumer    *model.Consumer
	AccessToken *IssuedToken
}

// Propose registers a new consumer. Owner-only consumers come out
// APPROVED with an acceptance and access token already issued for the
// proposer; everything else lands in PROPOSED awaiting human review.
func (ctl *Controller) Propose(ctx context.Context, actor Actor, in ProposeInput) (*ProposeResult, error) {
	if err := ctl.preflight(actor); err != nil {
		return nil, err
	}
	if err := ctl.requireCap(ctx, actor, CapPropose); err != nil {
		return nil, err
	}
	if !actor.EmailConfirmed {
		return nil, apperr.E(apperr.KindEmailNotConfirmed, "proposer email address is not confirmed")
	}
	if in.Email != actor.Email {
		return nil, apperr.E(apperr.KindEmailMismatched, "submitted email does not match the proposer's address")
	}

	resolved, err := ctl.catalog.Expand(in.GrantType, in.Grants)
	if err != nil {
		// Unknown bundle tags are a front-end validation failure, not a
		// recoverable lifecycle condition.
		return nil, err
	}

	secret := utils.MustRandomHex(32)
	wiki := in.Wiki
	if wiki == "" {
		wiki = model.WikiWildcard
	}
	now := ctl.now()
	cons := &model.Consumer{
		ConsumerKey:      utils.NewConsumerKey(),
		SecretKey:        secret,
		Name:             in.Name,
		Version:          in.Version,
		Description:      in.Description,
		OwnerUserID:      actor.ID,
		Email:            in.Email,
		Wiki:             wiki,
		CallbackURL:      in.CallbackURL,
		CallbackIsPrefix: in.CallbackIsPrefix,
		RSAKey:           in.RSAKey,
		GrantType:        in.GrantType,
		Grants:           resolved,
		Restrictions:     in.Restrictions,
		Stage:            model.StageProposed,
		StageTimestamp:   now,
		OwnerOnly:        in.OwnerOnly,
	}

	res := &ProposeResult{Consumer: cons}
	var acc *model.Acceptance
	if in.OwnerOnly {
		cons.Stage = model.StageApproved
		tok := &IssuedToken{Key: utils.MustRandomHex(32), Secret: utils.MustRandomHex(32)}
		acc = &model.Acceptance{
			UserID:           actor.ID,
			Wiki:             wiki,
			AccessKey:        tok.Key,
			AccessSecretHash: utils.HashSecret(tok.Secret),
			Grants:           resolved,
			Accepted:         now,
			OAuthVersion:     1,
		}
		res.AccessToken = tok
	}

	if err := ctl.consumers.Create(ctx, cons, acc); err != nil {
		return nil, err
	}
	ctl.record(ctx, cons.ConsumerKey, ActionPropose, actor, "")
	return res, nil
}

// UpdateInput carries the owner-editable fields. Nil pointers leave
// the stored value untouched.
type UpdateInput struct {
	ConsumerKey  string
	ChangeToken  string
	Description  *string
	Restrictions *model.Restrictions
	RSAKey       *string
	ResetSecret  bool
}

// UpdateResult reports the updated consumer and, when the secret was
// rotated on an owner-only consumer, the reissued access token.
type UpdateResult struct {
	Consumer    *model.Consumer
	AccessToken *IssuedToken
}

// Update lets the owner edit a PROPOSED or APPROVED consumer and
// optionally rotate its secret. An update whose submitted values match
// the stored record succeeds without touching storage, the audit log
// or notifications.
func (ctl *Controller) Update(ctx context.Context, actor Actor, in UpdateInput) (*UpdateResult, error) {
	cons, err := ctl.load(ctx, actor, ActionUpdate, in.ConsumerKey)
	if err != nil {
		return nil, err
	}
	if cons.OwnerUserID != actor.ID {
		return nil, apperr.E(apperr.KindPermissionDenied, "only the owner may update a consumer")
	}
	tr := transitions[ActionUpdate]
	if !tr.sources[cons.Stage] {
		return nil, apperr.E(tr.stageErr, "consumer is in stage "+string(cons.Stage))
	}
	if !TokenEqual(in.ChangeToken, ChangeToken(cons)) {
		return nil, apperr.E(apperr.KindChangeConflict, "consumer was modified since it was read")
	}

	updated := cons.Clone()
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.Restrictions != nil {
		updated.Restrictions = *in.Restrictions
	}
	if in.RSAKey != nil {
		updated.RSAKey = *in.RSAKey
	}
	res := &UpdateResult{Consumer: updated}
	if in.ResetSecret {
		updated.SecretKey = utils.MustRandomHex(32)
	}

	changed, err := ctl.consumers.Mutate(ctx, updated, in.ChangeToken)
	if err != nil {
		return nil, err
	}
	if changed && in.ResetSecret && updated.OwnerOnly {
		// The owner's standing acceptance rides on the consumer secret's
		// lifetime: rotate its access credential alongside.
		tok := &IssuedToken{Key: utils.MustRandomHex(32), Secret: utils.MustRandomHex(32)}
		acc := &model.Acceptance{
			UserID:           updated.OwnerUserID,
			ConsumerID:       updated.ID,
			Wiki:             updated.Wiki,
			AccessKey:        tok.Key,
			AccessSecretHash: utils.HashSecret(tok.Secret),
			Grants:           updated.Grants,
			Accepted:         ctl.now(),
			OAuthVersion:     1,
		}
		if err := ctl.acceptances.Upsert(ctx, acc); err != nil {
			return nil, err
		}
		res.AccessToken = tok
	}
	if changed {
		ctl.record(ctx, updated.ConsumerKey, ActionUpdate, actor, "")
	}
	return res, nil
}

// ManageInput carries the parameters of an administrative stage
// action. Suppress is only meaningful for reject and disable.
type ManageInput struct {
	ConsumerKey string
	ChangeToken string
	Comment     string
	Suppress    bool
}

// Approve moves a PROPOSED, EXPIRED or REJECTED consumer to APPROVED
// and clears the suppression flag.
func (ctl *Controller) Approve(ctx context.Context, actor Actor, in ManageInput) (*model.Consumer, error) {
	return ctl.submit(ctx, actor, ActionApprove, in, func(c *model.Consumer) {
		c.Deleted = false
	})
}

// Reject moves a PROPOSED consumer to REJECTED, optionally
// suppressing it.
func (ctl *Controller) Reject(ctx context.Context, actor Actor, in ManageInput) (*model.Consumer, error) {
	return ctl.submit(ctx, actor, ActionReject, in, func(c *model.Consumer) {
		c.Deleted = in.Suppress
	})
}

// Disable moves an APPROVED consumer to DISABLED, optionally
// suppressing it. Disabling an already-DISABLED consumer whose
// suppression flag matches the request is an idempotent success;
// any other stage reports not_approved.
func (ctl *Controller) Disable(ctx context.Context, actor Actor, in ManageInput) (*model.Consumer, error) {
	return ctl.submit(ctx, actor, ActionDisable, in, func(c *model.Consumer) {
		c.Deleted = in.Suppress
	})
}

// Reenable moves a DISABLED consumer back to APPROVED and clears the
// suppression flag.
func (ctl *Controller) Reenable(ctx context.Context, actor Actor, in ManageInput) (*model.Consumer, error) {
	return ctl.submit(ctx, actor, ActionReenable, in, func(c *model.Consumer) {
		c.Deleted = false
	})
}

// submit is the shared guarded path for the administrative actions:
// preflight and capability checks, record load, stage precondition,
// suppress permission, change-token compare, mutation, persistence,
// then best-effort audit and notification when something changed.
func (ctl *Controller) submit(ctx context.Context, actor Actor, action Action, in ManageInput, apply func(*model.Consumer)) (*model.Consumer, error) {
	cons, err := ctl.load(ctx, actor, action, in.ConsumerKey)
	if err != nil {
		return nil, err
	}
	tr := transitions[action]

	if !tr.sources[cons.Stage] {
		// Repeating a disable that already took effect is a success, not
		// a stage violation.
		if action == ActionDisable && cons.Stage == model.StageDisabled && cons.Deleted == in.Suppress {
			return cons, nil
		}
		return nil, apperr.E(tr.stageErr, "consumer is in stage "+string(cons.Stage))
	}

	// Changing the suppression flag needs the suppress capability even
	// when the stage transition itself is allowed.
	wantDeleted := cons.Deleted
	preview := cons.Clone()
	apply(preview)
	if preview.Deleted != wantDeleted {
		ok, err := ctl.caps.Has(ctx, actor, CapSuppress)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		if !ok {
			return nil, apperr.E(apperr.KindPermissionDenied, "suppression requires the suppress capability")
		}
	}

	if !TokenEqual(in.ChangeToken, ChangeToken(cons)) {
		return nil, apperr.E(apperr.KindChangeConflict, "consumer was modified since it was read")
	}

	updated := cons.Clone()
	apply(updated)
	if tr.target != "" && updated.Stage != tr.target {
		updated.Stage = tr.target
		updated.StageTimestamp = ctl.now()
	}

	changed, err := ctl.consumers.Mutate(ctx, updated, in.ChangeToken)
	if err != nil {
		return nil, err
	}
	if changed {
		ctl.record(ctx, updated.ConsumerKey, action, actor, in.Comment)
	}
	return updated, nil
}

// preflight rejects actors that may not act at all, before any record
// is read.
func (ctl *Controller) preflight(actor Actor) error {
	if actor.ID == 0 {
		return apperr.E(apperr.KindNotLoggedIn, "authentication required")
	}
	if actor.Blocked {
		return apperr.E(apperr.KindUserBlocked, "blocked users cannot manage consumers")
	}
	if ctl.readOnly {
		return apperr.E(apperr.KindReadOnly, "service is in read-only mode")
	}
	return nil
}

func (ctl *Controller) requireCap(ctx context.Context, actor Actor, cap Capability) error {
	ok, err := ctl.caps.Has(ctx, actor, cap)
	if err != nil {
		return apperr.Storage(err)
	}
	if !ok {
		return apperr.E(apperr.KindPermissionDenied, "missing capability "+string(cap))
	}
	return nil
}

// load runs the guards that precede any state mutation. The
// capability check happens strictly before the record read so an
// unauthorized caller cannot test for a key's existence, and
// suppressed records stay invisible without the suppress capability.
func (ctl *Controller) load(ctx context.Context, actor Actor, action Action, key string) (*model.Consumer, error) {
	if err := ctl.preflight(actor); err != nil {
		return nil, err
	}
	if err := ctl.requireCap(ctx, actor, transitions[action].cap); err != nil {
		return nil, err
	}
	cons, err := ctl.consumers.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if cons.Deleted {
		ok, err := ctl.caps.Has(ctx, actor, CapSuppress)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		if !ok {
			return nil, apperr.E(apperr.KindPermissionDenied, "missing capability "+string(transitions[action].cap))
		}
	}
	return cons, nil
}

// record fires the audit and notification sinks. Sink errors are
// logged and swallowed: a persisted mutation never fails because a
// side channel is down.
func (ctl *Controller) record(ctx context.Context, key string, action Action, actor Actor, comment string) {
	if ctl.audit != nil {
		if err := ctl.audit.RecordAction(ctx, key, action, actor.Email, comment); err != nil {
			log.Printf("lifecycle: audit sink failed for %s %s: %v", action, key, err)
		}
	}
	if ctl.notify != nil {
		if err := ctl.notify.Notify(ctx, key, action, actor.Email, comment); err != nil {
			log.Printf("lifecycle: notifier failed for %s %s: %v", action, key, err)
		}
	}
}
