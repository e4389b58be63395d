package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/storefront-booking/internal/wizard"
)

// CustomerClaims is what the storefront puts in a signed-in customer's token.
type CustomerClaims struct {
	jwt.RegisteredClaims
	FirstName string `json:"given_name"`
	LastName  string `json:"family_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone_number,omitempty"`
}

// Identity converts the claims into the wizard's read-only customer profile.
func (c CustomerClaims) Identity() *wizard.Identity {
	return &wizard.Identity{
		CustomerID: c.Subject,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Email:      c.Email,
		Phone:      c.Phone,
	}
}

// CustomerJWT attaches the signed-in customer to the request context.
// Requests without a bearer token pass through as guests; a token that is
// present but invalid is rejected.
func CustomerJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "malformed authorization header", http.StatusUnauthorized)
				return
			}
			if secret == "" {
				http.Error(w, "customer sign-in disabled", http.StatusUnauthorized)
				return
			}
			claims := &CustomerClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			}, jwt.WithExpirationRequired())
			if err != nil || !token.Valid || claims.Subject == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(wizard.WithIdentity(r.Context(), claims.Identity())))
		})
	}
}
