package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

var pgErr = errors.New("db error")

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func deviceRows(id, name, hash string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "name", "secret_hash", "created_at"}).AddRow(id, name, hash, time.Now())
}

func TestRegisterAndLogin(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO devices`).
		WithArgs(pgxmock.AnyArg(), "pit-unit", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`INSERT INTO device_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	device, tokens, err := svc.Register(context.Background(), RegisterRequest{Name: "pit-unit", Secret: "kart-secret"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if device.ID == "" || tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected device and tokens")
	}
	if bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte("kart-secret")) != nil {
		t.Fatalf("expected bcrypt hash of the secret")
	}

	mock.ExpectQuery(`SELECT id, name, secret_hash, created_at`).
		WithArgs("pit-unit").
		WillReturnRows(deviceRows(device.ID, "pit-unit", device.SecretHash))
	mock.ExpectExec(`INSERT INTO device_tokens`).
		WithArgs(pgxmock.AnyArg(), device.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, loginTokens, err := svc.Login(context.Background(), LoginRequest{Name: "pit-unit", Secret: "kart-secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	deviceID, err := svc.ValidateAccessToken(loginTokens.AccessToken)
	if err != nil || deviceID != device.ID {
		t.Fatalf("validate access: %v %s", err, deviceID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService("test-secret", newMock(t))
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Name: "", Secret: "long-enough"}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Name: "pit", Secret: "short"}); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestRegisterDBError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO devices`).
		WithArgs(pgxmock.AnyArg(), "pit-unit", pgxmock.AnyArg()).
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Name: "pit-unit", Secret: "kart-secret"}); err == nil {
		t.Fatalf("expected db error")
	}
}

func TestRegisterHashError(t *testing.T) {
	oldHash := hashPasswordFn
	hashPasswordFn = func(_ []byte, _ int) ([]byte, error) {
		return nil, pgErr
	}
	defer func() { hashPasswordFn = oldHash }()

	svc := NewService("test-secret", nil)
	if _, _, err := svc.Register(context.Background(), RegisterRequest{Name: "pit-unit", Secret: "kart-secret"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoginInvalidSecret(t *testing.T) {
	mock := newMock(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-secret"), bcrypt.DefaultCost)
	mock.ExpectQuery(`SELECT id, name, secret_hash, created_at`).
		WithArgs("pit-unit").
		WillReturnRows(deviceRows("device-1", "pit-unit", string(hash)))

	svc := NewService("test-secret", mock)
	_, _, err := svc.Login(context.Background(), LoginRequest{Name: "pit-unit", Secret: "wrong-secret"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoginQueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, name, secret_hash, created_at`).
		WithArgs("pit-unit").
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	if _, _, err := svc.Login(context.Background(), LoginRequest{Name: "pit-unit", Secret: "kart-secret"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRefreshToken(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO device_tokens`).
		WithArgs(pgxmock.AnyArg(), "device-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	tokens, err := svc.GenerateTokens(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}

	mock.ExpectQuery(`SELECT device_id, expires_at`).
		WithArgs(tokens.RefreshToken).
		WillReturnRows(pgxmock.NewRows([]string{"device_id", "expires_at"}).AddRow("device-1", time.Now().Add(5*time.Minute)))

	deviceID, err := svc.ValidateRefreshToken(context.Background(), tokens.RefreshToken)
	if err != nil || deviceID != "device-1" {
		t.Fatalf("validate refresh: %v %s", err, deviceID)
	}

	mock.ExpectQuery(`SELECT device_id, expires_at`).
		WithArgs(tokens.RefreshToken).
		WillReturnRows(pgxmock.NewRows([]string{"device_id", "expires_at"}).AddRow("device-1", time.Now().Add(-time.Minute)))
	if _, err := svc.ValidateRefreshToken(context.Background(), tokens.RefreshToken); err == nil {
		t.Fatalf("expected expired token error")
	}

	mock.ExpectQuery(`SELECT device_id, expires_at`).
		WithArgs(tokens.RefreshToken).
		WillReturnError(pgErr)
	if _, err := svc.ValidateRefreshToken(context.Background(), tokens.RefreshToken); err == nil {
		t.Fatalf("expected lookup error")
	}
}

func TestGenerateTokensErrors(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO device_tokens`).
		WithArgs(pgxmock.AnyArg(), "device-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgErr)
	if _, err := NewService("test-secret", mock).GenerateTokens(context.Background(), "device-1"); err == nil {
		t.Fatalf("expected save error")
	}

	oldSign := signTokenFn
	defer func() { signTokenFn = oldSign }()
	call := 0
	signTokenFn = func(_ *Service, _ string, _ time.Duration) (string, error) {
		call++
		if call == 2 {
			return "", pgErr
		}
		return "token", nil
	}
	if _, err := NewService("test-secret", nil).GenerateTokens(context.Background(), "device-1"); err == nil {
		t.Fatalf("expected refresh sign error")
	}
}

func TestValidateAccessTokenRejects(t *testing.T) {
	svc := NewService("test-secret", nil)
	if _, err := svc.ValidateAccessToken("invalid-token"); err == nil {
		t.Fatalf("expected error for garbage")
	}

	other, _ := NewService("other-secret", nil).signToken("device-1", time.Minute)
	if _, err := svc.ValidateAccessToken(other); err == nil {
		t.Fatalf("expected error for foreign signature")
	}

	viewer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DeviceID:         "device-1",
		Role:             "viewer",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	signed, _ := viewer.SignedString([]byte("test-secret"))
	if _, err := svc.ValidateAccessToken(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected non-producer role rejected, got %v", err)
	}

	expired, _ := svc.signToken("device-1", -time.Minute)
	if _, err := svc.ValidateAccessToken(expired); err == nil {
		t.Fatalf("expected expired token rejected")
	}
}

func TestParseTokenInvalid(t *testing.T) {
	oldParse := parseWithClaimsFn
	parseWithClaimsFn = func(_ string, _ jwt.Claims, _ jwt.Keyfunc, _ ...jwt.ParserOption) (*jwt.Token, error) {
		return &jwt.Token{Valid: false, Claims: &Claims{}}, nil
	}
	defer func() { parseWithClaimsFn = oldParse }()

	if _, err := NewService("test-secret", nil).parseToken("token"); err == nil {
		t.Fatalf("expected error")
	}
}
