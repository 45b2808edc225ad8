package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/corvidae-labs/chromefleet/internal/config"
	"github.com/corvidae-labs/chromefleet/internal/rpc"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// ClientInfo identifies the connection a request arrived on, carried through
// the middleware chain alongside the request itself. Session is the
// per-connection authentication/rate-limit state; two requests on the same
// connection share the same Session pointer.
type ClientInfo struct {
	Addr    string
	Session *Session
}

// Session is the connection-scoped state the Authentication middleware
// latches on successful authenticate, and the Rate Limiting middleware keys
// its accounting by. One Session per WebSocket connection; stdio's single
// connection gets one for the process lifetime.
type Session struct {
	Authenticated bool
}

// authenticateParams is the payload of the authenticate method, accepting
// either scheme spec.md §4.9 names.
type authenticateParams struct {
	Token     string `json:"token"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// Authentication returns the C9 Authentication middleware. Unauthenticated
// connections may call only initialize and authenticate; every other method
// returns -32001. authenticate validates one of two schemes — static bearer
// token, or HMAC-SHA256 over message||timestamp with a shared secret and a
// max-age window — and latches client.Session.Authenticated on success.
func Authentication(cfg config.AuthConfig) func(ctx context.Context, req *rpc.Request, client ClientInfo) *rpcerr.Error {
	tokens := make(map[string]struct{}, len(cfg.BearerTokens))
	for _, tok := range cfg.BearerTokens {
		tokens[tok] = struct{}{}
	}

	return func(_ context.Context, req *rpc.Request, client ClientInfo) *rpcerr.Error {
		if !cfg.Enabled {
			return nil
		}
		if client.Session == nil {
			return rpcerr.AuthRequired()
		}
		if client.Session.Authenticated {
			return nil
		}
		if req.Method == "initialize" {
			return nil
		}
		if req.Method == "authenticate" {
			var params authenticateParams
			if len(req.Params) > 0 {
				if err := json.Unmarshal(req.Params, &params); err != nil {
					return rpcerr.BadParams(err.Error())
				}
			}
			if !verifyCredentials(cfg, tokens, params) {
				return rpcerr.AuthFailed()
			}
			client.Session.Authenticated = true
			return nil
		}
		return rpcerr.AuthRequired()
	}
}

// verifyCredentials checks params against whichever scheme it carries
// credentials for: a non-empty Token is a bearer-token attempt, otherwise a
// non-empty Signature is an HMAC attempt.
func verifyCredentials(cfg config.AuthConfig, tokens map[string]struct{}, params authenticateParams) bool {
	if params.Token != "" {
		return verifyBearerToken(tokens, params.Token)
	}
	if params.Signature != "" {
		return verifyHMAC(cfg, params)
	}
	return false
}

// verifyBearerToken hashes both sides before comparing so the comparison
// time never depends on the candidate token's length, the same defense the
// teacher's API-key check used.
func verifyBearerToken(tokens map[string]struct{}, candidate string) bool {
	candidateHash := sha256.Sum256([]byte(candidate))
	for tok := range tokens {
		expectedHash := sha256.Sum256([]byte(tok))
		if subtle.ConstantTimeCompare(candidateHash[:], expectedHash[:]) == 1 {
			return true
		}
	}
	return false
}

func verifyHMAC(cfg config.AuthConfig, params authenticateParams) bool {
	if cfg.HMACSecret == "" {
		return false
	}
	maxSkew := cfg.HMACMaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	age := time.Since(time.Unix(params.Timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > maxSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(cfg.HMACSecret))
	mac.Write([]byte(params.Message))
	mac.Write([]byte(strconv.FormatInt(params.Timestamp, 10)))
	expected := mac.Sum(nil)

	sig, err := hex.DecodeString(strings.TrimSpace(params.Signature))
	if err != nil {
		return false
	}
	return hmac.Equal(sig, expected)
}
