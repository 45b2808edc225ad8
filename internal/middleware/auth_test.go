package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/corvidae-labs/chromefleet/internal/config"
	"github.com/corvidae-labs/chromefleet/internal/rpc"
)

func authReq(method string, params any) *rpc.Request {
	var raw []byte
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return &rpc.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: raw}
}

func TestAuthenticationDisabledPassesThrough(t *testing.T) {
	mw := Authentication(config.AuthConfig{Enabled: false})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}
	if err := mw(context.Background(), authReq("browser_launch", nil), client); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestAuthenticationAllowsInitializeUnauthenticated(t *testing.T) {
	mw := Authentication(config.AuthConfig{Enabled: true, BearerTokens: []string{"secret-token-0123456"}})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}
	if err := mw(context.Background(), authReq("initialize", nil), client); err != nil {
		t.Fatalf("initialize should pass unauthenticated, got %v", err)
	}
}

func TestAuthenticationRejectsOtherMethodsUnauthenticated(t *testing.T) {
	mw := Authentication(config.AuthConfig{Enabled: true, BearerTokens: []string{"secret-token-0123456"}})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}
	err := mw(context.Background(), authReq("tools/list", nil), client)
	if err == nil {
		t.Fatal("expected auth-required error")
	}
	if err.Code != -32001 {
		t.Errorf("expected code -32001, got %d", err.Code)
	}
}

func TestAuthenticationBearerTokenLatches(t *testing.T) {
	mw := Authentication(config.AuthConfig{Enabled: true, BearerTokens: []string{"secret-token-0123456"}})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}

	err := mw(context.Background(), authReq("authenticate", authenticateParams{Token: "secret-token-0123456"}), client)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !client.Session.Authenticated {
		t.Fatal("expected session to latch authenticated")
	}

	if err := mw(context.Background(), authReq("tools/list", nil), client); err != nil {
		t.Fatalf("expected subsequent calls to pass, got %v", err)
	}
}

func TestAuthenticationBearerTokenWrong(t *testing.T) {
	mw := Authentication(config.AuthConfig{Enabled: true, BearerTokens: []string{"secret-token-0123456"}})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}

	err := mw(context.Background(), authReq("authenticate", authenticateParams{Token: "wrong"}), client)
	if err == nil {
		t.Fatal("expected auth-failed error")
	}
	if err.Code != -32002 {
		t.Errorf("expected code -32002, got %d", err.Code)
	}
	if client.Session.Authenticated {
		t.Fatal("session must not latch on failure")
	}
}

func TestAuthenticationHMACValid(t *testing.T) {
	secret := "shared-secret"
	mw := Authentication(config.AuthConfig{Enabled: true, HMACSecret: secret, HMACMaxSkew: time.Minute})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}

	ts := time.Now().Unix()
	message := "hello"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	sig := hex.EncodeToString(mac.Sum(nil))

	err := mw(context.Background(), authReq("authenticate", authenticateParams{Message: message, Signature: sig, Timestamp: ts}), client)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !client.Session.Authenticated {
		t.Fatal("expected session to latch authenticated")
	}
}

func TestAuthenticationHMACStaleTimestampRejected(t *testing.T) {
	secret := "shared-secret"
	mw := Authentication(config.AuthConfig{Enabled: true, HMACSecret: secret, HMACMaxSkew: time.Minute})
	client := ClientInfo{Addr: "1.2.3.4", Session: &Session{}}

	ts := time.Now().Add(-time.Hour).Unix()
	message := "hello"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	sig := hex.EncodeToString(mac.Sum(nil))

	err := mw(context.Background(), authReq("authenticate", authenticateParams{Message: message, Signature: sig, Timestamp: ts}), client)
	if err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
}
