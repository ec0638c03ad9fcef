package auth

import (
	"errors"
	"time"

	"tubeforge/app/config"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 令牌无效
var ErrInvalidToken = errors.New("无效的令牌")

// Claims 运维令牌声明
type Claims struct {
	OperatorID uint   `json:"operator_id"`
	Username   string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService 签发与校验运维令牌
type JWTService struct {
	cfg config.JWTConfig
}

// NewJWTService 创建JWT服务
func NewJWTService(cfg config.JWTConfig) *JWTService {
	if cfg.ExpireTime <= 0 {
		cfg.ExpireTime = 24
	}
	return &JWTService{cfg: cfg}
}

// TTL 令牌有效期
func (j *JWTService) TTL() time.Duration {
	return time.Duration(j.cfg.ExpireTime) * time.Hour
}

// GenerateToken 生成JWT令牌
func (j *JWTService) GenerateToken(operatorID uint, username string) (string, time.Time, error) {
	now := time.Now()
	expireAt := now.Add(j.TTL())
	claims := Claims{
		OperatorID: operatorID,
		Username:   username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.cfg.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(j.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expireAt, nil
}

// ValidateToken 验证JWT令牌
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(j.cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// RefreshToken 令牌一小时内过期时换发新令牌
func (j *JWTService) RefreshToken(tokenString string) (string, time.Time, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}

	if time.Until(claims.ExpiresAt.Time) > time.Hour {
		return "", time.Time{}, errors.New("令牌仍然有效，无需刷新")
	}
	return j.GenerateToken(claims.OperatorID, claims.Username)
}
