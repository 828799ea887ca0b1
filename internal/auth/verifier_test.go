package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyToken_Valid(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	userID, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error: %v", err)
	}
	if userID != "u-1" {
		t.Errorf("userID = %q, want u-1", userID)
	}
}

func TestVerifyToken_Empty(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	if _, err := v.VerifyToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, []byte("other-secret"), Claims{UserID: "u-1"})

	if _, err := v.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := v.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyToken_MissingUserID(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyToken_WrongAlgorithm(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	// "none" algorithm tokens must be rejected by the HS256 allowlist.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
