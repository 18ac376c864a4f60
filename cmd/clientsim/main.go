// Command clientsim drives DarkAuth's public HTTP surface the way a
// real browser client would: OPAQUE registration/login, the ZKD
// authorize/finalize round trip, and token exchange, ending with the
// locally-decrypted DRK and a check that its hash matches the ID
// token's drk_hash claim. It stands in for the out-of-scope browser
// client so the ZKD algorithm is exercised end to end against a
// running server rather than only unit-tested in isolation.
package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/darkauth/darkauth/internal/clientkit"
	"github.com/darkauth/darkauth/internal/pake"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	baseURL := flag.String("server", "http://localhost:8080", "DarkAuth user-facing base URL")
	clientID := flag.String("client-id", "", "registered OAuth client_id to authorize against")
	redirectURI := flag.String("redirect-uri", "", "client_id's registered redirect_uri")
	email := flag.String("email", "", "account email (registers a new account if it doesn't exist)")
	password := flag.String("password", "", "account password")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: clientsim -email you@example.com -password '...' -client-id app-web -redirect-uri https://app/cb")
		os.Exit(2)
	}

	c := &client{base: *baseURL, http: &http.Client{}}

	sub, err := c.ensureAccount(*email, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("account setup failed")
	}
	log.Info().Str("sub", sub).Msg("authenticated")

	if *clientID == "" || *redirectURI == "" {
		log.Info().Msg("no -client-id/-redirect-uri given, stopping after login")
		return
	}

	if err := c.runAuthorizeFlow(*clientID, *redirectURI); err != nil {
		log.Fatal().Err(err).Msg("authorize flow failed")
	}
}

type client struct {
	base       string
	http       *http.Client
	sessionJar string // Set-Cookie value from login, replayed on subsequent requests
}

func (c *client) post(path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionJar != "" {
		req.Header.Set("Cookie", c.sessionJar)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if sc := resp.Header.Get("Set-Cookie"); sc != "" {
		c.sessionJar = sc
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("clientsim: %s %s: %d %s: %s", http.MethodPost, path, resp.StatusCode, e.Error, e.Message)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func b64dec(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// ensureAccount logs in; on any login error it registers the account
// and logs in again. Returns the account's sub.
func (c *client) ensureAccount(email, password string) (string, error) {
	sub, err := c.login(email, password)
	if err == nil {
		return sub, nil
	}
	log.Info().Str("email", email).Msg("login failed, attempting registration")
	if regErr := c.register(email, password); regErr != nil {
		return "", fmt.Errorf("register after failed login: %w (login error: %v)", regErr, err)
	}
	return c.login(email, password)
}

func (c *client) register(email, password string) error {
	pc := pake.NewClient()
	reqBlob, state, err := pc.RegisterStart(password)
	if err != nil {
		return err
	}

	var startResp struct {
		Message   string `json:"message"`
		PendingID string `json:"pendingId"`
	}
	if err := c.post("/api/user/opaque/register/start", map[string]string{
		"request": b64(reqBlob),
	}, &startResp); err != nil {
		return err
	}

	msgBlob, err := b64dec(startResp.Message)
	if err != nil {
		return err
	}
	recordBlob, _, err := pc.RegisterFinish(state, password, msgBlob)
	if err != nil {
		return err
	}

	return c.post("/api/user/opaque/register/finish", map[string]string{
		"pendingId": startResp.PendingID,
		"email":     email,
		"record":    b64(recordBlob),
	}, nil)
}

func (c *client) login(email, password string) (string, error) {
	pc := pake.NewClient()
	reqBlob, state, err := pc.LoginStart(password)
	if err != nil {
		return "", err
	}

	var startResp struct {
		Message   string `json:"message"`
		Sub       string `json:"sub"`
		SessionID string `json:"sessionId"`
	}
	if err := c.post("/api/user/opaque/login/start", map[string]string{
		"email":   email,
		"request": b64(reqBlob),
	}, &startResp); err != nil {
		return "", err
	}

	msgBlob, err := b64dec(startResp.Message)
	if err != nil {
		return "", err
	}
	finishBlob, _, _, err := pc.LoginFinish(state, password, msgBlob)
	if err != nil {
		return "", err
	}

	var finishResp struct {
		Sub string `json:"sub"`
	}
	if err := c.post("/api/user/opaque/login/finish", map[string]string{
		"sessionId": startResp.SessionID,
		"email":     email,
		"finish":    b64(finishBlob),
	}, &finishResp); err != nil {
		return "", err
	}
	return finishResp.Sub, nil
}

// runAuthorizeFlow exercises the full ZKD path: generate an ephemeral
// zk_pub, call /authorize (GET), approve via /authorize/finalize, build
// the drk_jwe fragment the way a browser would, then exchange the code
// at /token and confirm the ID token's drk_hash matches what was sent.
func (c *client) runAuthorizeFlow(clientID, redirectURI string) error {
	zkPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	zkPub := jose.JSONWebKey{Key: &zkPriv.PublicKey, Use: "enc"}
	zkPubJSON, err := zkPub.MarshalJSON()
	if err != nil {
		return err
	}

	verifier := b64url(randomBytes(32))
	challengeSum := sha256.Sum256([]byte(verifier))
	challenge := b64url(challengeSum[:])

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid profile email zkd")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("zk_pub", string(zkPubJSON))
	q.Set("state", b64url(randomBytes(16)))

	req, err := http.NewRequest(http.MethodGet, c.base+"/authorize?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", c.sessionJar)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clientsim: GET /authorize: %d", resp.StatusCode)
	}
	var startResp struct {
		RequestID string `json:"requestId"`
		HasZK     bool   `json:"hasZk"`
		ZKPub     json.RawMessage `json:"zkPub,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&startResp); err != nil {
		return err
	}
	if !startResp.HasZK {
		return fmt.Errorf("clientsim: client %q is not configured for zero-knowledge delivery", clientID)
	}

	drk, err := clientkit.GenerateDRK()
	if err != nil {
		return err
	}
	drkJWE, err := clientkit.EncryptDRKToJWE(startResp.ZKPub, drk)
	if err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(drkJWE))
	drkHash := b64url(sum[:])

	var finalizeResp struct {
		RedirectURI string `json:"redirectUri"`
	}
	if err := c.post("/authorize/finalize", map[string]any{
		"requestId": startResp.RequestID,
		"approve":   true,
		"drkHash":   drkHash,
		"drkJwe":    drkJWE,
	}, &finalizeResp); err != nil {
		return err
	}

	redirect, err := url.Parse(finalizeResp.RedirectURI)
	if err != nil {
		return err
	}
	code := redirect.Query().Get("code")
	log.Info().Str("code", code).Msg("authorization code issued")

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)
	form.Set("client_id", clientID)

	tokReq, err := http.NewRequest(http.MethodPost, c.base+"/token", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	tokReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokResp, err := c.http.Do(tokReq)
	if err != nil {
		return err
	}
	defer tokResp.Body.Close()
	if tokResp.StatusCode >= 300 {
		return fmt.Errorf("clientsim: POST /token: %d", tokResp.StatusCode)
	}
	var tokenOut struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(tokResp.Body).Decode(&tokenOut); err != nil {
		return err
	}

	decrypted, err := clientkit.DecryptDRKFromJWE(jose.JSONWebKey{Key: zkPriv}, drkJWE)
	if err != nil {
		return fmt.Errorf("decrypting own drk_jwe: %w", err)
	}
	if !bytes.Equal(decrypted, drk) {
		return fmt.Errorf("decrypted drk does not match the one generated before encryption")
	}

	claimedHash, err := idTokenDRKHash(tokenOut.IDToken)
	if err != nil {
		return fmt.Errorf("reading id_token drk_hash claim: %w", err)
	}
	if claimedHash != drkHash {
		return fmt.Errorf("id_token drk_hash %q does not match the hash sent at finalize %q", claimedHash, drkHash)
	}

	log.Info().
		Str("drk_hash", drkHash).
		Int("drk_bytes", len(drk)).
		Msg("zero-knowledge delivery round trip complete: drk decrypts locally and matches the id_token's drk_hash claim")
	return nil
}

// idTokenDRKHash extracts the drk_hash claim from a compact JWT without
// verifying its signature — clientsim already trusts the server it just
// talked to over the connection that returned this token.
func idTokenDRKHash(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed id_token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}
	var claims struct {
		DRKHash string `json:"drk_hash"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", err
	}
	return claims.DRKHash, nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
