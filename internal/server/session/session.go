// Package session issues and validates the JWT tokens used to authenticate
// API requests. Tokens are stateless: revocation happens by rotating the
// signing key.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/wgerror"
)

type (
	// A Manager manages authentication tokens.
	Manager interface {
		// SigningKey returns the JWT signing key.
		SigningKey() []byte
		// Token issues a signed token for the given user.
		Token(user *model.User) (string, error)
		// UserFromToken returns the user for the given parsed token.
		UserFromToken(token any) (*model.User, error)
	}

	manager struct {
		db         database.Client
		signingKey []byte
		expiration time.Duration
	}
)

// NewManager returns a new manager.
func NewManager(db database.Client, signingKey []byte, expiration time.Duration) Manager {
	return &manager{
		db:         db,
		signingKey: signingKey,
		expiration: expiration,
	}
}

func (m *manager) SigningKey() []byte {
	return m.signingKey
}

func (m *manager) Token(user *model.User) (string, error) {
	now := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"is_admin": user.Admin,
		"iat":      now.Unix(),
		"exp":      now.Add(m.expiration).Unix(),
	})

	signed, err := token.SignedString(m.signingKey)
	return signed, errors.Wrap(err, "could not sign token")
}

func (m *manager) UserFromToken(token any) (*model.User, error) {
	t, ok := token.(*jwt.Token)
	if !ok {
		panic("token implementation has wrong type")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		panic("token implementation has wrong type of claims")
	}

	id, ok := claims["user_id"].(float64)
	if !ok {
		return nil, wgerror.NewUnauthorized("Invalid login credentials.")
	}

	user, err := m.db.FindUser(int64(id))
	if err != nil {
		if m.db.IsNotFound(err) {
			return nil, wgerror.NewUnauthorized("Invalid login credentials.")
		}
		return nil, errors.Wrap(err, "could not get access to database")
	}

	return user, nil
}
