package jwt

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var ErrInvalidToken = errors.New("invalid or missing token")

const (
	TokenTypeAccess = "access"
	TokenTypeSSE    = "sse"
)

// Claims are the identity fields carried by every token.
type Claims struct {
	UserID     string
	EmployeeID string
	// DepartmentID restricts a payroll admin to one department when set.
	DepartmentID *string
	Role         string
}

type Service interface {
	GenerateAccessToken(claims Claims) (token string, expiresAt int64, err error)
	GenerateSSEToken(claims Claims) (token string, expiresIn int, err error)
	ValidateSSEToken(tokenString string) (Claims, error)
	JWTAuth() *jwtauth.JWTAuth
}

type JWTService struct {
	accessTokenExpirationTime time.Duration
	tokenAuth                 *jwtauth.JWTAuth
}

func (j *JWTService) JWTAuth() *jwtauth.JWTAuth {
	return j.tokenAuth
}

func NewJWTService(secretKey string, accessTokenExpirationTime time.Duration) Service {
	return &JWTService{
		accessTokenExpirationTime: accessTokenExpirationTime,
		tokenAuth:                 jwtauth.New("HS256", []byte(secretKey), nil, jwt.WithAcceptableSkew(30*time.Second)),
	}
}

func (j *JWTService) encode(c Claims, tokenType string, expiresAt int64) (string, error) {
	claims := map[string]interface{}{
		"user_id":       c.UserID,
		"employee_id":   c.EmployeeID,
		"department_id": returnValueOrNil(c.DepartmentID),
		"role":          c.Role,
		"type":          tokenType,
		"exp":           expiresAt,
	}
	_, tokenString, err := j.tokenAuth.Encode(claims)
	return tokenString, err
}

func (j *JWTService) GenerateAccessToken(claims Claims) (token string, expiresAt int64, err error) {
	expiresAt = time.Now().Add(j.accessTokenExpirationTime).Unix()
	token, err = j.encode(claims, TokenTypeAccess, expiresAt)
	return token, expiresAt, err
}

// GenerateSSEToken generates a short-lived token for SSE connections
func (j *JWTService) GenerateSSEToken(claims Claims) (token string, expiresIn int, err error) {
	// SSE tokens are short-lived (5 minutes)
	expiresIn = 300
	expiresAt := time.Now().Add(5 * time.Minute).Unix()

	token, err = j.encode(claims, TokenTypeSSE, expiresAt)
	if err != nil {
		return "", 0, err
	}
	return token, expiresIn, nil
}

// ValidateSSEToken validates an SSE token and returns its claims
func (j *JWTService) ValidateSSEToken(tokenString string) (Claims, error) {
	token, err := jwtauth.VerifyToken(j.tokenAuth, tokenString)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	tokenType, ok := token.Get("type")
	if !ok || tokenType != TokenTypeSSE {
		return Claims{}, ErrInvalidToken
	}

	return ClaimsFromMap(token.PrivateClaims())
}

// ClaimsFromMap reads Claims out of a decoded token's claim map.
func ClaimsFromMap(m map[string]interface{}) (Claims, error) {
	userID, ok := m["user_id"].(string)
	if !ok || userID == "" {
		return Claims{}, ErrInvalidToken
	}
	role, ok := m["role"].(string)
	if !ok || role == "" {
		return Claims{}, ErrInvalidToken
	}

	c := Claims{UserID: userID, Role: role}
	if employeeID, ok := m["employee_id"].(string); ok {
		c.EmployeeID = employeeID
	}
	if departmentID, ok := m["department_id"].(string); ok && departmentID != "" {
		c.DepartmentID = &departmentID
	}
	return c, nil
}

func returnValueOrNil(value *string) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
