package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/artstudio/models"
)

// VerifyJWT checks an HS256 token issued by the account service and returns the identity
// it carries along with its expiry.
func (s *Service) VerifyJWT(tokenString string) (models.User, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.User{}, time.Time{}, err
	}

	if !token.Valid {
		return models.User{}, time.Time{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.User{}, time.Time{}, errors.New("invalid token claims")
	}

	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return models.User{}, time.Time{}, errors.New("missing id claim")
	}

	username, _ := claims["username"].(string)

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return models.User{}, time.Time{}, errors.New("missing exp claim")
	}
	expiry := time.Unix(int64(expFloat), 0)

	return models.User{Id: id, Username: username}, expiry, nil
}

func (s *Service) AuthenticateToken(token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, errors.New("token not provided")
	}

	user, _, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}
