package authapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/Abhi18gaud/principulse-auth/internal/auth/service"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

// setSessionCookies mirrors a freshly issued pair into httpOnly cookies so
// browser clients never touch the tokens from script. Native clients use the
// response body instead.
func (h *Handler) setSessionCookies(w http.ResponseWriter, pair service.TokenPair) {
	h.setCookie(w, accessCookieName, pair.AccessToken, pair.AccessExpiresAt)
	h.setCookie(w, refreshCookieName, pair.RefreshToken, pair.RefreshExpiresAt)
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.expireCookie(w, accessCookieName)
	h.expireCookie(w, refreshCookieName)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) accessTokenFromCookie(r *http.Request) string {
	return cookieValue(r, accessCookieName)
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) string {
	return cookieValue(r, refreshCookieName)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
