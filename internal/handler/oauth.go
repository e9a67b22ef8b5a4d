package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/oauth"
	"github.com/provly/consumer-gateway/internal/repository"
)

// OAuthHandler exposes the three legs of the token exchange protocol.
// The initiate and token endpoints take OAuth1-style signed requests;
// the authorize endpoint is driven by the logged-in end user.
type OAuthHandler struct {
	Users  *repository.UserRepo
	Engine *oauth.Engine
}

func NewOAuthHandler(u *repository.UserRepo, e *oauth.Engine) *OAuthHandler {
	return &OAuthHandler{Users: u, Engine: e}
}

// Initiate issues a fresh request token for a signed consumer call.
func (h *OAuthHandler) Initiate(c echo.Context) error {
	req := signedRequestFrom(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	tok, err := h.Engine.Initiate(ctx, req)
	if err != nil {
		return kindJSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"oauth_token":              tok.TokenKey,
		"oauth_token_secret":       tok.TokenSecret,
		"oauth_callback_confirmed": "true",
	})
}

type authorizeReq struct {
	ConsumerKey string `json:"consumer_key"`
	Token       string `json:"token"`
}

// Authorize records the end user's grant and reports where to send
// them next. Out-of-band consumers get the verifier in the response
// body instead of a redirect target.
func (h *OAuthHandler) Authorize(c echo.Context) error {
	var req authorizeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	uid := subjectID(c)
	if uid == 0 {
		return kindJSON(c, apperr.E(apperr.KindNotLoggedIn, "authentication required"))
	}
	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return kindJSON(c, apperr.E(apperr.KindNotLoggedIn, "unknown user"))
	}

	res, err := h.Engine.Authorize(ctx, oauth.User{ID: u.ID, Blocked: u.Blocked}, req.ConsumerKey, req.Token)
	if err != nil {
		return kindJSON(c, err)
	}
	body := echo.Map{"oauth_verifier": res.Verifier}
	if res.CallbackURL != "" {
		body["callback_url"] = res.CallbackURL
	}
	return c.JSON(http.StatusOK, body)
}

// Token redeems an authorized request token for the access token.
func (h *OAuthHandler) Token(c echo.Context) error {
	req := signedRequestFrom(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	cred, err := h.Engine.AccessToken(ctx, req)
	if err != nil {
		return kindJSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"oauth_token":        cred.Key,
		"oauth_token_secret": cred.Secret,
	})
}

// signedRequestFrom collects the oauth_* protocol parameters plus any
// application parameters from the query string and form body, exactly
// the set the consumer signed over.
func signedRequestFrom(c echo.Context) *oauth.SignedRequest {
	params := url.Values{}
	for k, vs := range c.QueryParams() {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if form, err := c.FormParams(); err == nil {
		for k, vs := range form {
			for _, v := range vs {
				params.Add(k, v)
			}
		}
	}
	ts, _ := strconv.ParseInt(params.Get("oauth_timestamp"), 10, 64)

	r := c.Request()
	scheme := c.Scheme()
	if scheme == "" {
		scheme = "http"
	}
	return &oauth.SignedRequest{
		Method:          r.Method,
		URL:             scheme + "://" + r.Host + r.URL.Path,
		ConsumerKey:     params.Get("oauth_consumer_key"),
		Token:           params.Get("oauth_token"),
		SignatureMethod: params.Get("oauth_signature_method"),
		Signature:       params.Get("oauth_signature"),
		Timestamp:       ts,
		Nonce:           params.Get("oauth_nonce"),
		Verifier:        params.Get("oauth_verifier"),
		Callback:        params.Get("oauth_callback"),
		Params:          params,
		SourceIP:        c.RealIP(),
	}
}
