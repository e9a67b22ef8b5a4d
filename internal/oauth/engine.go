// Package oauth implements the token exchange protocol engine: the
// request-token, authorize and access-token legs of the OAuth1-style
// handshake, including the source-IP gate, signature verification and
// the single-use verifier handshake. The engine reads consumer
// approval state written by the lifecycle controller and writes
// acceptance records; the request token row carries all intermediate
// state between legs.
package oauth

import (
	"context"
	"crypto/subtle"
	"net/url"
	"time"

	"github.com/provly/consumer-gateway/internal/apperr"
	"github.com/provly/consumer-gateway/internal/model"
	"github.com/provly/consumer-gateway/internal/utils"
)

// OOB is the callback value meaning "no redirect": the verifier is
// displayed to the user instead.
const OOB = "oob"

// ConsumerSource resolves consumers by public key.
type ConsumerSource interface {
	GetByKey(ctx context.Context, key string) (*model.Consumer, error)
}

// TokenStore persists request tokens. Authorize and Exchange are
// compare-and-swap transitions on the status column: they report
// false when another call already moved the token, so concurrent
// authorizations or redemptions of one token yield at most one
// success. Authorize writes the acceptance in the same transaction as
// the status flip, so a failure leaves the token ISSUED and the whole
// operation retryable.
type TokenStore interface {
	Create(ctx context.Context, t *model.RequestToken) error
	Get(ctx context.Context, consumerID uint64, key string) (*model.RequestToken, error)
	Authorize(ctx context.Context, tokenID, userID uint64, verifier, accessKey, accessSecret string, acc *model.Acceptance) (bool, error)
	Exchange(ctx context.Context, tokenID uint64) (bool, error)
}

// IdentityHook may substitute the acting user during the authorize
// leg, e.g. to map a federated identity onto a local account. It
// returns the user id to record; an error aborts the authorization.
type IdentityHook func(ctx context.Context, userID uint64) (uint64, error)

// User is the authenticated principal completing the authorize leg.
type User struct {
	ID      uint64
	Blocked bool
}

// AccessCredential is the key/secret pair handed to the consumer at
// the end of the handshake.
type AccessCredential struct {
	Key    string
	Secret string
}

// Engine wires the protocol legs to their collaborators.
type Engine struct {
	consumers ConsumerSource
	tokens    TokenStore
	nonces    NonceCache
	hook      IdentityHook
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewEngine builds an engine. nonces and hook may be nil; tokenTTL
// bounds how long an issued request token stays redeemable.
func NewEngine(cs ConsumerSource, ts TokenStore, nonces NonceCache, hook IdentityHook, tokenTTL time.Duration) *Engine {
	return &Engine{
		consumers: cs,
		tokens:    ts,
		nonces:    nonces,
		hook:      hook,
		tokenTTL:  tokenTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Initiate handles the request-token leg: resolve the consumer, gate
// on its IP allow-list, verify the signature, then mint a fresh
// single-use request token optionally bound to a callback override.
func (e *Engine) Initiate(ctx context.Context, req *SignedRequest) (*model.RequestToken, error) {
	cons, err := e.resolveConsumer(ctx, req.ConsumerKey)
	if err != nil {
		return nil, err
	}
	if !ipAllowed(cons.Restrictions, req.SourceIP) {
		return nil, apperr.E(apperr.KindIPRestricted, "caller IP is not in the consumer's allow-list")
	}
	if err := e.checkSignature(ctx, req, cons, ""); err != nil {
		return nil, err
	}

	now := e.now()
	tok := &model.RequestToken{
		ConsumerID:  cons.ID,
		TokenKey:    utils.MustRandomHex(32),
		TokenSecret: utils.MustRandomHex(32),
		Callback:    req.Callback,
		Status:      model.TokenIssued,
		ExpiresAt:   now.Add(e.tokenTTL),
		CreatedAt:   now,
	}
	if err := e.tokens.Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// AuthorizeResult reports where to send the user after the authorize
// leg. CallbackURL is empty for out-of-band consumers; the verifier is
// then shown to the user directly.
type AuthorizeResult struct {
	CallbackURL string
	Verifier    string
}

// Authorize handles the middle leg: the authenticated end user grants
// the consumer access. It requires the consumer to be APPROVED, marks
// the request token AUTHORIZED with a fresh verifier and provisional
// access credential, records the acceptance, and computes the
// callback to redirect the user to.
func (e *Engine) Authorize(ctx context.Context, user User, consumerKey, tokenKey string) (*AuthorizeResult, error) {
	if user.ID == 0 {
		return nil, apperr.E(apperr.KindNotLoggedIn, "authorization requires an authenticated user")
	}
	if user.Blocked {
		return nil, apperr.E(apperr.KindUserBlocked, "blocked users cannot authorize consumers")
	}
	cons, err := e.resolveConsumer(ctx, consumerKey)
	if err != nil {
		return nil, err
	}
	if cons.Stage != model.StageApproved {
		return nil, apperr.E(apperr.KindBadConsumer, "consumer is not approved")
	}
	tok, err := e.tokens.Get(ctx, cons.ID, tokenKey)
	if err != nil {
		return nil, err
	}
	if tok.Status != model.TokenIssued {
		return nil, apperr.E(apperr.KindInvalidRequestToken, "request token is not awaiting authorization")
	}
	if tok.Expired(e.now()) {
		return nil, apperr.E(apperr.KindExpiredToken, "request token has expired")
	}

	userID := user.ID
	if e.hook != nil {
		userID, err = e.hook(ctx, userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidUser, "identity hook rejected the user", err)
		}
	}

	verifier := utils.MustRandomHex(32)
	accessKey := utils.MustRandomHex(32)
	accessSecret := utils.MustRandomHex(32)
	acc := &model.Acceptance{
		UserID:           userID,
		ConsumerID:       cons.ID,
		Wiki:             cons.Wiki,
		AccessKey:        accessKey,
		AccessSecretHash: utils.HashSecret(accessSecret),
		Grants:           cons.Grants,
		Accepted:         e.now(),
		OAuthVersion:     1,
	}

	// Status flip and acceptance land in one transaction: a storage
	// failure leaves the token ISSUED so the user can simply retry.
	flipped, err := e.tokens.Authorize(ctx, tok.ID, userID, verifier, accessKey, accessSecret, acc)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, apperr.E(apperr.KindInvalidRequestToken, "request token was authorized concurrently")
	}

	cb, err := resolveCallback(cons, tok.Callback, tokenKey, verifier)
	if err != nil {
		return nil, err
	}
	return &AuthorizeResult{CallbackURL: cb, Verifier: verifier}, nil
}

// AccessToken handles the final leg: the consumer redeems an
// authorized request token, proving possession of the verifier and of
// both secrets. The token is dead afterwards; replays report
// token_already_exchanged, which callers must treat as success-shaped
// rather than retry.
func (e *Engine) AccessToken(ctx context.Context, req *SignedRequest) (*AccessCredential, error) {
	cons, err := e.resolveConsumer(ctx, req.ConsumerKey)
	if err != nil {
		return nil, err
	}
	if !ipAllowed(cons.Restrictions, req.SourceIP) {
		return nil, apperr.E(apperr.KindIPRestricted, "caller IP is not in the consumer's allow-list")
	}
	tok, err := e.tokens.Get(ctx, cons.ID, req.Token)
	if err != nil {
		return nil, err
	}
	switch tok.Status {
	case model.TokenExchanged:
		return nil, apperr.E(apperr.KindTokenAlreadyExchanged, "request token was already redeemed")
	case model.TokenAuthorized:
	default:
		return nil, apperr.E(apperr.KindInvalidRequestToken, "request token has not been authorized")
	}
	if tok.Expired(e.now()) {
		return nil, apperr.E(apperr.KindExpiredToken, "request token has expired")
	}
	if subtle.ConstantTimeCompare([]byte(tok.Verifier), []byte(req.Verifier)) != 1 {
		return nil, apperr.E(apperr.KindInvalidVerifier, "verifier does not match")
	}
	if err := e.checkSignature(ctx, req, cons, tok.TokenSecret); err != nil {
		return nil, err
	}

	flipped, err := e.tokens.Exchange(ctx, tok.ID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, apperr.E(apperr.KindTokenAlreadyExchanged, "request token was already redeemed")
	}
	return &AccessCredential{Key: tok.AccessKey, Secret: tok.AccessSecret}, nil
}

// resolveConsumer maps an absent record onto the protocol's
// bad_consumer condition.
func (e *Engine) resolveConsumer(ctx context.Context, key string) (*model.Consumer, error) {
	cons, err := e.consumers.GetByKey(ctx, key)
	if err != nil {
		if apperr.IsKind(err, apperr.KindInvalidConsumerKey) {
			return nil, apperr.E(apperr.KindBadConsumer, "unknown consumer key")
		}
		return nil, err
	}
	return cons, nil
}

// checkSignature enforces the timestamp window, the request signature
// and nonce freshness. RSA-SHA1 is honored only for consumers that
// registered a public key; everything else verifies HMAC-SHA1 against
// the shared secrets.
func (e *Engine) checkSignature(ctx context.Context, req *SignedRequest, cons *model.Consumer, tokenSecret string) error {
	if e.tokenTTL > 0 && req.Timestamp > 0 {
		skew := e.now().Unix() - req.Timestamp
		if skew < 0 {
			skew = -skew
		}
		if time.Duration(skew)*time.Second > e.tokenTTL {
			return apperr.E(apperr.KindInvalidSignature, "timestamp outside the acceptance window")
		}
	}
	switch req.SignatureMethod {
	case SigRSASHA1:
		if cons.RSAKey == "" || !req.VerifyRSA(cons.RSAKey) {
			return apperr.E(apperr.KindInvalidSignature, "RSA signature verification failed")
		}
	case SigHMACSHA1, "":
		if !req.VerifyHMAC(cons.SecretKey, tokenSecret) {
			return apperr.E(apperr.KindInvalidSignature, "HMAC signature verification failed")
		}
	default:
		return apperr.E(apperr.KindInvalidSignature, "unsupported signature method "+req.SignatureMethod)
	}
	// The nonce is recorded only after the signature checks out, so an
	// unsigned call cannot burn a nonce out from under the legitimate
	// consumer.
	if e.nonces != nil && req.Nonce != "" {
		fresh, err := e.nonces.Remember(ctx, req.ConsumerKey, req.Nonce, req.Timestamp)
		if err != nil {
			return apperr.Storage(err)
		}
		if !fresh {
			return apperr.E(apperr.KindInvalidSignature, "nonce already used")
		}
	}
	return nil
}

// resolveCallback computes the post-authorize redirect. The
// consumer's registered callback governs: an override bound at
// initiate time is honored only when the consumer opted into prefix
// callbacks and the override extends the registered prefix.
func resolveCallback(cons *model.Consumer, override, tokenKey, verifier string) (string, error) {
	target := cons.CallbackURL
	if cons.CallbackIsPrefix && override != "" && override != OOB {
		if len(override) >= len(cons.CallbackURL) && override[:len(cons.CallbackURL)] == cons.CallbackURL {
			target = override
		} else {
			return "", apperr.E(apperr.KindBadConsumer, "callback does not extend the registered prefix")
		}
	}
	if target == OOB || target == "" {
		return "", nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", apperr.E(apperr.KindBadConsumer, "registered callback is not a valid URL")
	}
	q := u.Query()
	q.Set("oauth_token", tokenKey)
	q.Set("oauth_verifier", verifier)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
