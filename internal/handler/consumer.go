package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/lifecycle"
	"github.com/provly/consumer-gateway/internal/model"
	"github.com/provly/consumer-gateway/internal/repository"
)

// ConsumerHandler exposes the lifecycle controller over HTTP.
type ConsumerHandler struct {
	Users     *repository.UserRepo
	Consumers *repository.ConsumerRepo
	Ctl       *lifecycle.Controller
	Caps      lifecycle.Capabilities
}

func NewConsumerHandler(u *repository.UserRepo, cr *repository.ConsumerRepo, ctl *lifecycle.Controller, caps lifecycle.Capabilities) *ConsumerHandler {
	return &ConsumerHandler{Users: u, Consumers: cr, Ctl: ctl, Caps: caps}
}

// ----- DTOs -----

type proposeReq struct {
	Name             string              `json:"name"`
	Version          string              `json:"version"`
	Description      string              `json:"description"`
	Email            string              `json:"email"`
	Wiki             string              `json:"wiki"`
	CallbackURL      string              `json:"callback_url"`
	CallbackIsPrefix bool                `json:"callback_is_prefix"`
	RSAKey           string              `json:"rsa_key"`
	GrantType        string              `json:"grant_type"`
	Grants           []string            `json:"grants"`
	Restrictions     *model.Restrictions `json:"restrictions"`
	OwnerOnly        bool                `json:"owner_only"`
}

type updateReq struct {
	ChangeToken  string              `json:"change_token"`
	Description  *string             `json:"description"`
	Restrictions *model.Restrictions `json:"restrictions"`
	RSAKey       *string             `json:"rsa_key"`
	ResetSecret  bool                `json:"reset_secret"`
}

type manageReq struct {
	ChangeToken string `json:"change_token"`
	Comment     string `json:"comment"`
	Suppress    bool   `json:"suppress"`
}

type issuedTokenPart struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type consumerView struct {
	ConsumerKey      string             `json:"consumer_key"`
	Name             string             `json:"name"`
	Version          string             `json:"version"`
	Description      string             `json:"description"`
	OwnerUserID      uint64             `json:"owner_user_id"`
	Email            string             `json:"email"`
	Wiki             string             `json:"wiki"`
	CallbackURL      string             `json:"callback_url"`
	CallbackIsPrefix bool               `json:"callback_is_prefix"`
	GrantType        string             `json:"grant_type"`
	Grants           []string           `json:"grants"`
	Restrictions     model.Restrictions `json:"restrictions"`
	Stage            string             `json:"stage"`
	StageTimestamp   time.Time          `json:"stage_timestamp"`
	Suppressed       bool               `json:"suppressed"`
	OwnerOnly        bool               `json:"owner_only"`
	ChangeToken      string             `json:"change_token"`
}

func viewOf(m *model.Consumer) consumerView {
	return consumerView{
		ConsumerKey:      m.ConsumerKey,
		Name:             m.Name,
		Version:          m.Version,
		Description:      m.Description,
		OwnerUserID:      m.OwnerUserID,
		Email:            m.Email,
		Wiki:             m.Wiki,
		CallbackURL:      m.CallbackURL,
		CallbackIsPrefix: m.CallbackIsPrefix,
		GrantType:        m.GrantType,
		Grants:           m.Grants,
		Restrictions:     m.Restrictions,
		Stage:            string(m.Stage),
		StageTimestamp:   m.StageTimestamp,
		Suppressed:       m.Deleted,
		OwnerOnly:        m.OwnerOnly,
		ChangeToken:      lifecycle.ChangeToken(m),
	}
}

// Propose registers a new consumer application.
func (h *ConsumerHandler) Propose(c echo.Context) error {
	var req proposeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	actor, err := h.currentActor(ctx, c)
	if err != nil {
		return kindJSON(c, err)
	}
	in := lifecycle.ProposeInput{
		Name:             req.Name,
		Version:          req.Version,
		Description:      req.Description,
		Email:            req.Email,
		Wiki:             req.Wiki,
		CallbackURL:      req.CallbackURL,
		CallbackIsPrefix: req.CallbackIsPrefix,
		RSAKey:           req.RSAKey,
		GrantType:        req.GrantType,
		Grants:           req.Grants,
		OwnerOnly:        req.OwnerOnly,
	}
	if req.Restrictions != nil {
		in.Restrictions = *req.Restrictions
	}
	res, err := h.Ctl.Propose(ctx, actor, in)
	if err != nil {
		return kindJSON(c, err)
	}
	body := echo.Map{
		"consumer": viewOf(res.Consumer),
		// The secret is shown exactly once, at registration time.
		"secret_key": res.Consumer.SecretKey,
	}
	if res.AccessToken != nil {
		body["access_token"] = issuedTokenPart{Key: res.AccessToken.Key, Secret: res.AccessToken.Secret}
	}
	return c.JSON(http.StatusCreated, body)
}

// Update edits an owned consumer and optionally rotates its secret.
func (h *ConsumerHandler) Update(c echo.Context) error {
	var req updateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	actor, err := h.currentActor(ctx, c)
	if err != nil {
		return kindJSON(c, err)
	}
	res, err := h.Ctl.Update(ctx, actor, lifecycle.UpdateInput{
		ConsumerKey:  c.Param("key"),
		ChangeToken:  req.ChangeToken,
		Description:  req.Description,
		Restrictions: req.Restrictions,
		RSAKey:       req.RSAKey,
		ResetSecret:  req.ResetSecret,
	})
	if err != nil {
		return kindJSON(c, err)
	}
	body := echo.Map{"consumer": viewOf(res.Consumer)}
	if req.ResetSecret {
		body["secret_key"] = res.Consumer.SecretKey
	}
	if res.AccessToken != nil {
		body["access_token"] = issuedTokenPart{Key: res.AccessToken.Key, Secret: res.AccessToken.Secret}
	}
	return c.JSON(http.StatusOK, body)
}

// Approve, Reject, Disable and Reenable expose the administrative
// stage actions; they share one shape and differ only in the
// controller method invoked.

func (h *ConsumerHandler) Approve(c echo.Context) error  { return h.manage(c, h.Ctl.Approve) }
func (h *ConsumerHandler) Reject(c echo.Context) error   { return h.manage(c, h.Ctl.Reject) }
func (h *ConsumerHandler) Disable(c echo.Context) error  { return h.manage(c, h.Ctl.Disable) }
func (h *ConsumerHandler) Reenable(c echo.Context) error { return h.manage(c, h.Ctl.Reenable) }

func (h *ConsumerHandler) manage(c echo.Context, op func(context.Context, lifecycle.Actor, lifecycle.ManageInput) (*model.Consumer, error)) error {
	var req manageReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	actor, err := h.currentActor(ctx, c)
	if err != nil {
		return kindJSON(c, err)
	}
	cons, err := op(ctx, actor, lifecycle.ManageInput{
		ConsumerKey: c.Param("key"),
		ChangeToken: req.ChangeToken,
		Comment:     req.Comment,
		Suppress:    req.Suppress,
	})
	if err != nil {
		return kindJSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"consumer": viewOf(cons)})
}

// Get returns one consumer by key. Suppressed records are visible
// only to actors holding the suppress capability.
func (h *ConsumerHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	actor, err := h.currentActor(ctx, c)
	if err != nil {
		return kindJSON(c, err)
	}
	cons, err := h.Consumers.GetByKey(ctx, c.Param("key"))
	if err != nil {
		return kindJSON(c, err)
	}
	if cons.Deleted {
		ok, err := h.Caps.Has(ctx, actor, lifecycle.CapSuppress)
		if err != nil {
			return kindJSON(c, apperr.Storage(err))
		}
		if !ok {
			return kindJSON(c, apperr.E(apperr.KindInvalidConsumerKey, "no consumer with key "+c.Param("key")))
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"consumer": viewOf(cons)})
}

// List returns the calling user's consumers.
func (h *ConsumerHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	actor, err := h.currentActor(ctx, c)
	if err != nil {
		return kindJSON(c, err)
	}
	withSuppressed, err := h.Caps.Has(ctx, actor, lifecycle.CapSuppress)
	if err != nil {
		return kindJSON(c, apperr.Storage(err))
	}
	list, err := h.Consumers.ListByOwner(ctx, actor.ID, withSuppressed)
	if err != nil {
		return kindJSON(c, err)
	}
	views := make([]consumerView, 0, len(list))
	for _, m := range list {
		views = append(views, viewOf(m))
	}
	return c.JSON(http.StatusOK, echo.Map{"consumers": views})
}

// currentActor builds the lifecycle actor from the JWT subject plus
// the stored user row.
func (h *ConsumerHandler) currentActor(ctx context.Context, c echo.Context) (lifecycle.Actor, error) {
	uid := subjectID(c)
	if uid == 0 {
		return lifecycle.Actor{}, apperr.E(apperr.KindNotLoggedIn, "authentication required")
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return lifecycle.Actor{}, apperr.E(apperr.KindNotLoggedIn, "unknown user")
	}
	return lifecycle.Actor{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmed,
		Blocked:        u.Blocked,
		Role:           u.Role,
	}, nil
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}
