package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ObserverAudience marks tokens that may only watch one arena.
const ObserverAudience = "observer"

// Claims is the JWT payload of an observer token. RegisteredClaims.ID is
// the token id used for revocation.
type Claims struct {
	ArenaID string `json:"arena_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs an observer token for one arena. It returns the
// token string and its id.
func GenerateToken(arenaID, secret string, ttl time.Duration) (string, *Claims, error) {
	if secret == "" {
		return "", nil, errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := &Claims{
		ArenaID: arenaID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Audience:  jwt.ClaimStrings{ObserverAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseToken validates a JWT string and returns the claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithAudience(ObserverAudience))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ArenaID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
