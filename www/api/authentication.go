package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"harvester/engine/config"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	jwtSecret    []byte
	passwordHash []byte
)

// InitAuth generates the process-local token signing secret and hashes the
// configured API password. Tokens do not survive a restart.
func InitAuth(conf *config.ConfigSettings) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("failed to generate token secret: %w", err)
	}
	jwtSecret = secret

	if conf.AuthSettings.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(conf.AuthSettings.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash api password: %w", err)
		}
		passwordHash = hash
	}

	slog.Info("control-plane auth initialized")
	return nil
}

func createToken() (string, error) {
	exp := time.Now().Add(24 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	return token.SignedString(jwtSecret)
}

func verifyToken(tokenString string) error {
	_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	return err
}

// Authenticate checks the session token on a request. The token may arrive
// either as an Authorization bearer header or as a token cookie.
func Authenticate(r *http.Request) error {
	if header := r.Header.Get("Authorization"); header != "" {
		tok, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return errors.New("malformed authorization header")
		}
		return verifyToken(tok)
	}

	if cookie, err := r.Cookie("token"); err == nil {
		return verifyToken(cookie.Value)
	}

	return errors.New("no session token")
}

// Login exchanges the shared API password for a session token.
func Login(w http.ResponseWriter, r *http.Request) {
	password := r.FormValue("password")
	if password == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "password is required"})
		return
	}

	if len(passwordHash) == 0 {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no api password configured"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(passwordHash, []byte(password)); err != nil {
		slog.Warn("login failed: invalid password")
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	tok, err := createToken()
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "token generation error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    tok,
		Path:     "/",
		MaxAge:   60 * 60 * 24,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	WriteJSON(w, http.StatusOK, map[string]string{"token": tok})
}

// Verify reports whether a presented token is a valid session token. The
// token may arrive as JSON or form body.
func Verify(w http.ResponseWriter, r *http.Request) {
	var tok string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid verify payload"})
			return
		}
		tok = payload.Token
	} else {
		tok = r.FormValue("token")
	}

	if tok == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	if err := verifyToken(tok); err != nil {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}
