package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/grants"
	"github.com/provly/consumer-gateway/internal/model"
)

// memConsumerStore is an in-memory ConsumerStore with the same
// compare-and-swap semantics the MySQL repository implements.
type memConsumerStore struct {
	nextID    uint64
	byID      map[uint64]*model.Consumer
	accepted  []*model.Acceptance
	duplicate bool
}

func newMemConsumerStore() *memConsumerStore {
	return &memConsumerStore{byID: map[uint64]*model.Consumer{}}
}

func (s *memConsumerStore) Create(_ context.Context, c *model.Consumer, a *model.Acceptance) error {
	if s.duplicate {
		return apperr.E(apperr.KindConsumerExists, "duplicate")
	}
	for _, ex := range s.byID {
		if ex.Name == c.Name && ex.OwnerUserID == c.OwnerUserID && ex.Version == c.Version {
			return apperr.E(apperr.KindConsumerExists, "duplicate")
		}
	}
	s.nextID++
	c.ID = s.nextID
	s.byID[c.ID] = c.Clone()
	if a != nil {
		a.ConsumerID = c.ID
		s.accepted = append(s.accepted, a)
	}
	return nil
}

func (s *memConsumerStore) GetByKey(_ context.Context, key string) (*model.Consumer, error) {
	for _, c := range s.byID {
		if c.ConsumerKey == key {
			return c.Clone(), nil
		}
	}
	return nil, apperr.E(apperr.KindInvalidConsumerKey, "no consumer with key "+key)
}

func (s *memConsumerStore) Mutate(_ context.Context, updated *model.Consumer, expectToken string) (bool, error) {
	current, ok := s.byID[updated.ID]
	if !ok {
		return false, apperr.E(apperr.KindInvalidConsumerKey, "vanished")
	}
	if !TokenEqual(expectToken, ChangeToken(current)) {
		return false, apperr.E(apperr.KindChangeConflict, "stale token")
	}
	if ChangeToken(current) == ChangeToken(updated) && current.StageTimestamp.Equal(updated.StageTimestamp) {
		return false, nil
	}
	s.byID[updated.ID] = updated.Clone()
	return true, nil
}

type memAcceptanceStore struct{ upserts []*model.Acceptance }

func (s *memAcceptanceStore) Upsert(_ context.Context, a *model.Acceptance) error {
	s.upserts = append(s.upserts, a)
	return nil
}

type recordingSink struct {
	actions []Action
}

func (s *recordingSink) RecordAction(_ context.Context, _ string, action Action, _, _ string) error {
	s.actions = append(s.actions, action)
	return nil
}

func (s *recordingSink) Notify(_ context.Context, _ string, action Action, _, _ string) error {
	s.actions = append(s.actions, action)
	return nil
}

type fixture struct {
	store  *memConsumerStore
	accept *memAcceptanceStore
	audit  *recordingSink
	notify *recordingSink
	ctl    *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemConsumerStore(),
		accept: &memAcceptanceStore{},
		audit:  &recordingSink{},
		notify: &recordingSink{},
	}
	f.ctl = NewController(f.store, f.accept, DefaultRoleCapabilities(),
		grants.DefaultCatalog(), f.audit, f.notify, false)
	return f
}

var (
	proposer = Actor{ID: 7, Email: "dev@example.org", EmailConfirmed: true, Role: "USER"}
	admin    = Actor{ID: 8, Email: "admin@example.org", EmailConfirmed: true, Role: "ADMIN"}
	steward  = Actor{ID: 9, Email: "steward@example.org", EmailConfirmed: true, Role: "STEWARD"}
)

func propose(t *testing.T, f *fixture, in ProposeInput) *model.Consumer {
	t.Helper()
	if in.Name == "" {
		in.Name = "Widget"
	}
	if in.Version == "" {
		in.Version = "1.0.0"
	}
	if in.Email == "" {
		in.Email = proposer.Email
	}
	if in.GrantType == "" {
		in.GrantType = grants.BundleNormal
	}
	res, err := f.ctl.Propose(context.Background(), proposer, in)
	require.NoError(t, err)
	return res.Consumer
}

func TestProposeCreatesProposedConsumer(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{Grants: []string{"editpage"}})

	assert.Equal(t, model.StageProposed, cons.Stage)
	assert.Len(t, cons.ConsumerKey, 32)
	assert.Len(t, cons.SecretKey, 64)
	assert.Equal(t, model.WikiWildcard, cons.Wiki)
	// hidden grants ride along with every normal bundle
	assert.Contains(t, cons.Grants, "basic")
	assert.Contains(t, cons.Grants, "editpage")
	assert.Equal(t, []Action{ActionPropose}, f.audit.actions)
}

func TestProposeRequiresConfirmedMatchingEmail(t *testing.T) {
	f := newFixture(t)

	unconfirmed := proposer
	unconfirmed.EmailConfirmed = false
	_, err := f.ctl.Propose(context.Background(), unconfirmed, ProposeInput{
		Name: "X", Version: "1.0", Email: unconfirmed.Email, GrantType: grants.BundleAuthOnly,
	})
	assert.Equal(t, apperr.KindEmailNotConfirmed, apperr.KindOf(err))

	_, err = f.ctl.Propose(context.Background(), proposer, ProposeInput{
		Name: "X", Version: "1.0", Email: "other@example.org", GrantType: grants.BundleAuthOnly,
	})
	assert.Equal(t, apperr.KindEmailMismatched, apperr.KindOf(err))
}

func TestProposeDuplicateReportsConsumerExists(t *testing.T) {
	f := newFixture(t)
	propose(t, f, ProposeInput{})
	_, err := f.ctl.Propose(context.Background(), proposer, ProposeInput{
		Name: "Widget", Version: "1.0.0", Email: proposer.Email, GrantType: grants.BundleNormal,
	})
	assert.Equal(t, apperr.KindConsumerExists, apperr.KindOf(err))
}

func TestProposeOwnerOnlyIsApprovedWithAcceptance(t *testing.T) {
	f := newFixture(t)
	res, err := f.ctl.Propose(context.Background(), proposer, ProposeInput{
		Name: "Bot", Version: "1.0", Email: proposer.Email,
		GrantType: grants.BundleNormal, Grants: []string{"highvolume"},
		OwnerOnly: true,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StageApproved, res.Consumer.Stage)
	require.NotNil(t, res.AccessToken)
	assert.Len(t, res.AccessToken.Key, 64)
	assert.Len(t, res.AccessToken.Secret, 64)

	require.Len(t, f.store.accepted, 1)
	acc := f.store.accepted[0]
	assert.Equal(t, proposer.ID, acc.UserID)
	assert.Equal(t, res.Consumer.ID, acc.ConsumerID)
	assert.Equal(t, res.Consumer.Grants, acc.Grants)
	assert.Equal(t, res.AccessToken.Key, acc.AccessKey)
}

func TestApproveMovesProposedToApproved(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	f.audit.actions = nil

	out, err := f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageApproved, out.Stage)
	assert.False(t, out.Deleted)
	assert.Equal(t, []Action{ActionApprove}, f.audit.actions)
}

func TestApproveWithoutManageCapability(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	_, err := f.ctl.Approve(context.Background(), proposer, ManageInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
	})
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err))
}

func TestStaleChangeTokenReportsConflict(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	stale := ChangeToken(cons)

	// First approve wins with the token both admins read.
	_, err := f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: stale,
	})
	require.NoError(t, err)

	// Second approve with the same token loses: the record changed
	// underneath it, and approve from APPROVED is not a valid source
	// stage either way.
	_, err = f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: stale,
	})
	assert.Equal(t, apperr.KindNotProposed, apperr.KindOf(err))

	// Disable (valid from APPROVED) with the stale token hits the
	// concurrency check.
	_, err = f.ctl.Disable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: stale,
	})
	assert.Equal(t, apperr.KindChangeConflict, apperr.KindOf(err))
}

func TestNoPathFromProposedToDisabled(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	_, err := f.ctl.Disable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
	})
	assert.Equal(t, apperr.KindNotApproved, apperr.KindOf(err))
}

func TestRejectSuppressRequiresSuppressCapability(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})

	_, err := f.ctl.Reject(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
		Suppress:    true,
	})
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err))

	// The record is untouched: still PROPOSED, still visible.
	stored, err := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	require.NoError(t, err)
	assert.Equal(t, model.StageProposed, stored.Stage)
	assert.False(t, stored.Deleted)

	// A steward may suppress.
	out, err := f.ctl.Reject(context.Background(), steward, ManageInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
		Suppress:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageRejected, out.Stage)
	assert.True(t, out.Deleted)
}

func TestSuppressedRecordInvisibleWithoutSuppressCapability(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	_, err := f.ctl.Reject(context.Background(), steward, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons), Suppress: true,
	})
	require.NoError(t, err)

	stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	_, err = f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err))
}

func TestApproveClearsSuppression(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	_, err := f.ctl.Reject(context.Background(), steward, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons), Suppress: true,
	})
	require.NoError(t, err)

	stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	out, err := f.ctl.Approve(context.Background(), steward, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageApproved, out.Stage)
	assert.False(t, out.Deleted)
}

func TestDisableThenReenable(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	_, err := f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons),
	})
	require.NoError(t, err)

	stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	out, err := f.ctl.Disable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageDisabled, out.Stage)

	stored, _ = f.store.GetByKey(context.Background(), cons.ConsumerKey)
	out, err = f.ctl.Reenable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageApproved, out.Stage)
}

func TestDisableRepeatIsIdempotentSuccess(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	_, err := f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons),
	})
	require.NoError(t, err)
	stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	_, err = f.ctl.Disable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	require.NoError(t, err)

	f.audit.actions = nil
	f.notify.actions = nil
	stored, _ = f.store.GetByKey(context.Background(), cons.ConsumerKey)
	out, err := f.ctl.Disable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageDisabled, out.Stage)
	assert.Empty(t, f.audit.actions, "idempotent repeat must not hit the audit log")
	assert.Empty(t, f.notify.actions)
}

func TestUpdateNoOpSkipsAuditAndNotification(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{Description: "does things"})
	f.audit.actions = nil
	f.notify.actions = nil

	same := cons.Description
	res, err := f.ctl.Update(context.Background(), proposer, UpdateInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
		Description: &same,
	})
	require.NoError(t, err)
	assert.Equal(t, cons.Description, res.Consumer.Description)
	assert.Empty(t, f.audit.actions)
	assert.Empty(t, f.notify.actions)
}

func TestUpdateOnlyFromProposedOrApproved(t *testing.T) {
	f := newFixture(t)
	desc := "edited after the fact"

	// A rejected consumer is frozen for its owner.
	cons := propose(t, f, ProposeInput{Name: "Rejected-App"})
	_, err := f.ctl.Reject(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons),
	})
	require.NoError(t, err)
	stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	_, err = f.ctl.Update(context.Background(), proposer, UpdateInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(stored),
		Description: &desc,
	})
	assert.Equal(t, apperr.KindNotProposed, apperr.KindOf(err))
	kept, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	assert.NotEqual(t, desc, kept.Description)

	// Same for a disabled one: the owner cannot edit or rotate its
	// secret until an admin re-enables it.
	cons = propose(t, f, ProposeInput{Name: "Disabled-App"})
	_, err = f.ctl.Approve(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons),
	})
	require.NoError(t, err)
	stored, _ = f.store.GetByKey(context.Background(), cons.ConsumerKey)
	_, err = f.ctl.Disable(context.Background(), admin, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
	})
	require.NoError(t, err)
	stored, _ = f.store.GetByKey(context.Background(), cons.ConsumerKey)
	_, err = f.ctl.Update(context.Background(), proposer, UpdateInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(stored),
		ResetSecret: true,
	})
	assert.Equal(t, apperr.KindNotProposed, apperr.KindOf(err))
}

func TestUpdateByNonOwnerDenied(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})
	desc := "hijacked"
	_, err := f.ctl.Update(context.Background(), admin, UpdateInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(cons),
		Description: &desc,
	})
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err))
}

func TestUpdateResetSecretReissuesOwnerOnlyAcceptance(t *testing.T) {
	f := newFixture(t)
	res, err := f.ctl.Propose(context.Background(), proposer, ProposeInput{
		Name: "Bot", Version: "1.0", Email: proposer.Email,
		GrantType: grants.BundleAuthOnly, OwnerOnly: true,
	})
	require.NoError(t, err)
	cons := res.Consumer
	oldSecret := cons.SecretKey
	oldAccess := res.AccessToken.Key

	stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
	upd, err := f.ctl.Update(context.Background(), proposer, UpdateInput{
		ConsumerKey: cons.ConsumerKey,
		ChangeToken: ChangeToken(stored),
		ResetSecret: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, upd.Consumer.SecretKey)
	require.NotNil(t, upd.AccessToken)
	assert.NotEqual(t, oldAccess, upd.AccessToken.Key)
	require.Len(t, f.accept.upserts, 1)
	assert.Equal(t, upd.AccessToken.Key, f.accept.upserts[0].AccessKey)
}

func TestBlockedAndAnonymousActorsRejected(t *testing.T) {
	f := newFixture(t)
	cons := propose(t, f, ProposeInput{})

	_, err := f.ctl.Approve(context.Background(), Actor{}, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons),
	})
	assert.Equal(t, apperr.KindNotLoggedIn, apperr.KindOf(err))

	blocked := admin
	blocked.Blocked = true
	_, err = f.ctl.Approve(context.Background(), blocked, ManageInput{
		ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(cons),
	})
	assert.Equal(t, apperr.KindUserBlocked, apperr.KindOf(err))
}

func TestReadOnlyModeRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ro := NewController(f.store, f.accept, DefaultRoleCapabilities(),
		grants.DefaultCatalog(), f.audit, f.notify, true)
	_, err := ro.Propose(context.Background(), proposer, ProposeInput{
		Name: "X", Version: "1.0", Email: proposer.Email, GrantType: grants.BundleAuthOnly,
	})
	assert.Equal(t, apperr.KindReadOnly, apperr.KindOf(err))
}

func TestApproveFromExpiredAndRejected(t *testing.T) {
	f := newFixture(t)
	for _, stage := range []model.Stage{model.StageExpired, model.StageRejected} {
		cons := propose(t, f, ProposeInput{Name: "App-" + string(stage)})
		raw := f.store.byID[cons.ID]
		raw.Stage = stage

		stored, _ := f.store.GetByKey(context.Background(), cons.ConsumerKey)
		out, err := f.ctl.Approve(context.Background(), admin, ManageInput{
			ConsumerKey: cons.ConsumerKey, ChangeToken: ChangeToken(stored),
		})
		require.NoError(t, err, "approve from %s", stage)
		assert.Equal(t, model.StageApproved, out.Stage)
	}
}
