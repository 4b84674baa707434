package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
	ErrNoUser       = errors.New("token carries no user")
)

const accessTokenType = "access"

// Claims 登录服务签发的访问令牌声明
type Claims struct {
	UserID    int64  `json:"user_id"`
	DeviceID  string `json:"device_id"`
	Platform  string `json:"platform"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Identity 当前登录用户
type Identity struct {
	UserID    int64
	DeviceID  string
	Platform  string
	ExpiresAt time.Time
}

// Expired 是否已过期，没有过期时间视为不过期
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// FromAccessToken 从访问令牌读取身份
// secret 为空时不校验签名，只用于本地调试
func FromAccessToken(token, secret string) (Identity, error) {
	var (
		claims Claims
		err    error
	)
	if secret == "" {
		_, _, err = jwt.NewParser().ParseUnverified(token, &claims)
		if err == nil && claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			return Identity{}, ErrTokenExpired
		}
	} else {
		_, err = jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrTokenInvalid
			}
			return []byte(secret), nil
		})
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	if claims.TokenType != "" && claims.TokenType != accessTokenType {
		return Identity{}, ErrTokenInvalid
	}
	if claims.UserID == 0 {
		return Identity{}, ErrNoUser
	}

	id := Identity{
		UserID:   claims.UserID,
		DeviceID: claims.DeviceID,
		Platform: claims.Platform,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
