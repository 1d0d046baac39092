package service_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/internal/config"
	"github.com/SinaHo/phone-auth-backend/internal/model"
	"github.com/SinaHo/phone-auth-backend/internal/repository"
	"github.com/SinaHo/phone-auth-backend/internal/service"
	"github.com/SinaHo/phone-auth-backend/internal/token"
)

// mockUserRepo implements repository.UserRepository in memory.
type mockUserRepo struct {
	users map[uuid.UUID]*model.User
	order []uuid.UUID

	// control outputs
	createErrs   []error
	getErr       error
	updateErr    error
	setRefErr    error
	deleteErr    error
	createCalls  int
	updateCalls  int
	lastUpdate   model.ProfileUpdate
	lastRefCode  string
	referralsFor map[uuid.UUID][]model.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users:        map[uuid.UUID]*model.User{},
		referralsFor: map[uuid.UUID][]model.User{},
	}
}

func (m *mockUserRepo) add(phone string, staff bool) *model.User {
	u := &model.User{
		ID:         uuid.New(),
		Phone:      phone,
		InviteCode: "inv" + phone[len(phone)-3:],
		IsActive:   true,
		IsStaff:    staff,
		CreatedAt:  time.Now(),
	}
	m.users[u.ID] = u
	m.order = append(m.order, u.ID)
	return u
}

func (m *mockUserRepo) GetOrCreateByPhone(ctx context.Context, phone, inviteCode string) (*model.User, bool, error) {
	m.createCalls++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return nil, false, err
		}
	}
	if u, _ := m.GetByPhone(ctx, phone); u != nil {
		return u, false, nil
	}
	u := m.add(phone, false)
	u.InviteCode = inviteCode
	return u, true, nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	for _, u := range m.users {
		if u.InviteCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockUserRepo) SetReferral(ctx context.Context, userID uuid.UUID, inviteCode string) error {
	m.lastRefCode = inviteCode
	return m.setRefErr
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, userID uuid.UUID, upd model.ProfileUpdate) (*model.User, error) {
	m.updateCalls++
	m.lastUpdate = upd
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if upd.City != nil {
		u.City = upd.City
	}
	if upd.Email != nil {
		u.Email = upd.Email
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) ListReferrals(ctx context.Context, userID uuid.UUID) ([]model.User, error) {
	return m.referralsFor[userID], nil
}

func (m *mockUserRepo) ListAll(ctx context.Context) ([]model.User, error) {
	var out []model.User
	for _, id := range m.order {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *mockUserRepo) Delete(ctx context.Context, userID uuid.UUID) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.users[userID]; !ok {
		return repository.ErrUserNotFound
	}
	delete(m.users, userID)
	return nil
}

// mockCodeRepo keeps the latest code per phone.
type mockCodeRepo struct {
	codes       map[string]model.AuthCode
	issued      int
	issueErr    error
	consumeErr  error
	invalidated []string
	lastTTL     time.Duration
}

func newMockCodeRepo() *mockCodeRepo {
	return &mockCodeRepo{codes: map[string]model.AuthCode{}}
}

func (m *mockCodeRepo) Issue(ctx context.Context, code model.AuthCode, ttl time.Duration) error {
	if m.issueErr != nil {
		return m.issueErr
	}
	m.issued++
	m.lastTTL = ttl
	m.codes[code.Phone] = code
	return nil
}

func (m *mockCodeRepo) Consume(ctx context.Context, phone, code string) (uuid.UUID, error) {
	if m.consumeErr != nil {
		return uuid.Nil, m.consumeErr
	}
	c, ok := m.codes[phone]
	if !ok || c.Code != code {
		return uuid.Nil, repository.ErrCodeInvalid
	}
	delete(m.codes, phone)
	return c.UserID, nil
}

func (m *mockCodeRepo) Invalidate(ctx context.Context, phone string) error {
	m.invalidated = append(m.invalidated, phone)
	delete(m.codes, phone)
	return nil
}

type mockDispatcher struct {
	phones []string
	codes  []string
}

func (m *mockDispatcher) Dispatch(ctx context.Context, phone, code string) {
	m.phones = append(m.phones, phone)
	m.codes = append(m.codes, code)
}

type authFixture struct {
	users      *mockUserRepo
	codes      *mockCodeRepo
	dispatcher *mockDispatcher
	tokens     *token.Issuer
	svc        service.AuthService
}

func newAuthFixture(expose bool) *authFixture {
	f := &authFixture{
		users:      newMockUserRepo(),
		codes:      newMockCodeRepo(),
		dispatcher: &mockDispatcher{},
		tokens:     token.NewIssuer([]byte("test-secret"), "phone-auth", 15*time.Minute, 24*time.Hour),
	}
	f.svc = service.NewAuthService(f.users, f.codes, f.tokens, f.dispatcher, config.AuthConfig{
		CodeTTL:    5 * time.Minute,
		ExposeCode: expose,
	}, zap.NewNop().Sugar(), nil)
	return f
}

const phone = "+79051122333"

func TestRequestCode_NewAccount(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(false)

	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, res.Code)

	assert.Len(t, f.users.users, 1)
	assert.Equal(t, 1, f.codes.issued)
	assert.Equal(t, 5*time.Minute, f.codes.lastTTL)

	stored := f.codes.codes[phone]
	assert.Equal(t, res.UserID, stored.UserID)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), stored.Code)
	assert.Len(t, f.users.users[res.UserID].InviteCode, 6)

	// delivery receives exactly the stored code
	assert.Equal(t, []string{phone}, f.dispatcher.phones)
	assert.Equal(t, []string{stored.Code}, f.dispatcher.codes)
}

func TestRequestCode_ExistingAccount(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(false)
	existing := f.users.add(phone, false)

	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, existing.ID, res.UserID)
	assert.Len(t, f.users.users, 1)
	assert.Equal(t, 0, f.users.createCalls)
	assert.Equal(t, 1, f.codes.issued)
}

func TestRequestCode_InvalidPhone(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(false)

	for _, p := range []string{"", "   ", "89051122333", "+7905112233", "+790511223334", "+7905112233a"} {
		_, err := f.svc.RequestCode(ctx, p)
		var verr *service.ValidationError
		require.True(t, errors.As(err, &verr), "phone %q", p)
		assert.Equal(t, "phone", verr.Field)
	}
	assert.Empty(t, f.users.users)
	assert.Equal(t, 0, f.codes.issued)
	assert.Empty(t, f.dispatcher.codes)
}

func TestRequestCode_RetriesTakenInviteCode(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(false)
	f.users.createErrs = []error{repository.ErrInviteCodeTaken}

	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 2, f.users.createCalls)
}

func TestRequestCode_IssueFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(false)
	f.codes.issueErr = errors.New("redis down")

	_, err := f.svc.RequestCode(ctx, phone)
	assert.Error(t, err)
	assert.Empty(t, f.dispatcher.codes)
}

func TestRequestCode_ExposeCode(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(true)

	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, f.codes.codes[phone].Code, res.Code)
}

func TestVerifyCode_SingleUse(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(true)

	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)

	pair, err := f.svc.VerifyCode(ctx, phone, res.Code)
	require.NoError(t, err)
	claims, err := f.tokens.Parse(pair.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, res.UserID.String(), claims.Subject)

	_, err = f.svc.VerifyCode(ctx, phone, res.Code)
	assert.ErrorIs(t, err, service.ErrInvalidCredential)
}

func TestVerifyCode_MismatchIsGeneric(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(true)
	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)

	wrong := "0000"
	if res.Code == wrong {
		wrong = "1111"
	}
	_, errCode := f.svc.VerifyCode(ctx, phone, wrong)
	_, errPhone := f.svc.VerifyCode(ctx, "+79990000000", res.Code)

	assert.ErrorIs(t, errCode, service.ErrInvalidCredential)
	assert.ErrorIs(t, errPhone, service.ErrInvalidCredential)
	assert.Equal(t, errCode.Error(), errPhone.Error())
}

func TestVerifyCode_ForeignPhoneIsInvalidCredential(t *testing.T) {
	f := newAuthFixture(false)

	_, err := f.svc.VerifyCode(context.Background(), "+19531112244", "1234")
	assert.ErrorIs(t, err, service.ErrInvalidCredential)

	_, err = f.svc.VerifyCode(context.Background(), "  ", "1234")
	var verr *service.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "phone", verr.Field)
}

func TestVerifyCode_NewCodeSupersedesOld(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(true)

	first, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	second, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	for second.Code == first.Code {
		second, err = f.svc.RequestCode(ctx, phone)
		require.NoError(t, err)
	}

	_, err = f.svc.VerifyCode(ctx, phone, first.Code)
	assert.ErrorIs(t, err, service.ErrInvalidCredential)
	_, err = f.svc.VerifyCode(ctx, phone, second.Code)
	assert.NoError(t, err)
}

func TestVerifyCode_InactiveAccount(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(true)
	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	f.users.users[res.UserID].IsActive = false

	_, err = f.svc.VerifyCode(ctx, phone, res.Code)
	assert.ErrorIs(t, err, service.ErrInvalidCredential)
}

func TestVerifyCode_StoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(false)
	f.codes.consumeErr = repository.ErrCodeUnavailable

	_, err := f.svc.VerifyCode(ctx, phone, "1234")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, service.ErrInvalidCredential)
	assert.ErrorIs(t, err, repository.ErrCodeUnavailable)
}

func TestVerifyCode_MissingCode(t *testing.T) {
	f := newAuthFixture(false)
	_, err := f.svc.VerifyCode(context.Background(), phone, "")
	var verr *service.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "code", verr.Field)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(true)
	res, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	pair, err := f.svc.VerifyCode(ctx, phone, res.Code)
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)

	// access tokens are not refresh tokens
	_, err = f.svc.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, service.ErrInvalidCredential)

	delete(f.users.users, res.UserID)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, service.ErrInvalidCredential)
}
