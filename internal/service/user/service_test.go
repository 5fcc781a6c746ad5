package user

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	"github.com/LaboInfra/fob-api/pkg/config"
	"github.com/LaboInfra/fob-api/pkg/crypto"
)

type memUsers struct {
	byID    map[string]domain.User
	resets  map[string]domain.PasswordReset
	deleted []string
	touched []string
	updated map[string][]byte
}

func newMemUsers() *memUsers {
	return &memUsers{
		byID:    make(map[string]domain.User),
		resets:  make(map[string]domain.PasswordReset),
		updated: make(map[string][]byte),
	}
}

func (m *memUsers) CreateUser(ctx context.Context, user *domain.User) error {
	m.byID[user.ID] = *user
	return nil
}

func (m *memUsers) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := m.byID[id]; ok {
		u := user
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, user := range m.byID {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) ListUsers(ctx context.Context) ([]domain.User, error) { return nil, nil }

func (m *memUsers) UpdateUserPassword(ctx context.Context, userID string, hash []byte) error {
	m.updated[userID] = hash
	return nil
}

func (m *memUsers) TouchUserSync(ctx context.Context, userID string) error {
	m.touched = append(m.touched, userID)
	return nil
}

func (m *memUsers) DeleteUser(ctx context.Context, userID string) error {
	delete(m.byID, userID)
	m.deleted = append(m.deleted, userID)
	return nil
}

func (m *memUsers) CreatePasswordReset(ctx context.Context, reset *domain.PasswordReset) error {
	m.resets[reset.Token] = *reset
	return nil
}

func (m *memUsers) GetPasswordReset(ctx context.Context, token string) (*domain.PasswordReset, error) {
	if reset, ok := m.resets[token]; ok {
		r := reset
		return &r, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) DeletePasswordReset(ctx context.Context, id string) error {
	for token, reset := range m.resets {
		if reset.ID == id {
			delete(m.resets, token)
		}
	}
	return nil
}

type mailerStub struct {
	sent []string
	err  error
}

func (m *mailerStub) SendText(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

type accountsStub struct {
	passwords map[string]string
	ensured   []string
}

func (a *accountsStub) FindUserID(ctx context.Context, username string) (string, error) {
	return "acct-" + username, nil
}

func (a *accountsStub) EnsureUser(ctx context.Context, username string) (string, error) {
	a.ensured = append(a.ensured, username)
	return "acct-" + username, nil
}

func (a *accountsStub) SetUserPassword(ctx context.Context, username, password string) error {
	if a.passwords == nil {
		a.passwords = make(map[string]string)
	}
	a.passwords[username] = password
	return nil
}

type fixture struct {
	svc      Service
	users    *memUsers
	mailer   *mailerStub
	accounts *accountsStub
	admin    *domain.User
}

func newFixture() *fixture {
	admin := domain.User{ID: "admin-id", Username: "root", IsAdmin: true}
	users := newMemUsers()
	users.byID[admin.ID] = admin
	mailer := &mailerStub{}
	accounts := &accountsStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{PasswordResetTTL: 5 * 24 * time.Hour}
	return &fixture{
		svc:      New(users, guard.Guard{}, accounts, mailer, logger, cfg),
		users:    users,
		mailer:   mailer,
		accounts: accounts,
		admin:    &admin,
	}
}

func TestCreateMailsResetToken(t *testing.T) {
	f := newFixture()
	user, err := f.svc.Create(context.Background(), f.admin, "alice", "alice@example.org")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "alice@example.org" {
		t.Fatalf("expected one mail to alice, got %v", f.mailer.sent)
	}
	if len(f.users.resets) != 1 {
		t.Fatalf("expected one reset token, got %d", len(f.users.resets))
	}
	if len(user.PasswordHash) == 0 {
		t.Fatal("placeholder password must be hashed and stored")
	}
}

func TestCreateRequiresAdmin(t *testing.T) {
	f := newFixture()
	alice := &domain.User{ID: "a", Username: "alice"}
	if _, err := f.svc.Create(context.Background(), alice, "bob", "bob@example.org"); !errors.Is(err, guard.ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestCreateRollsBackWhenRecipientRefused(t *testing.T) {
	f := newFixture()
	f.mailer.err = errors.New("550 no such mailbox")

	if _, err := f.svc.Create(context.Background(), f.admin, "alice", "alice@example.org"); err == nil {
		t.Fatal("expected error when recipient is refused")
	}
	if len(f.users.deleted) != 1 {
		t.Fatalf("refused recipient must roll the user back, deletes: %v", f.users.deleted)
	}
}

func TestCreateKeepsUserWhenRelayUnreachable(t *testing.T) {
	f := newFixture()
	f.mailer.err = &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	user, err := f.svc.Create(context.Background(), f.admin, "alice", "alice@example.org")
	if err != nil {
		t.Fatalf("unreachable relay must not fail creation: %v", err)
	}
	if len(f.users.deleted) != 0 {
		t.Fatal("user must be kept when only the relay is down")
	}
	if _, ok := f.users.byID[user.ID]; !ok {
		t.Fatal("user row missing")
	}
}

func TestRedeemResetSetsPasswordAndConsumesToken(t *testing.T) {
	f := newFixture()
	user, err := f.svc.Create(context.Background(), f.admin, "alice", "alice@example.org")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var token string
	for tok := range f.users.resets {
		token = tok
	}

	if err := f.svc.RedeemReset(context.Background(), "alice", token, "new-password-1"); err != nil {
		t.Fatalf("RedeemReset: %v", err)
	}
	hash, ok := f.users.updated[user.ID]
	if !ok {
		t.Fatal("password not updated")
	}
	if err := crypto.ComparePassword(hash, "new-password-1"); err != nil {
		t.Fatalf("stored hash does not match new password: %v", err)
	}
	if len(f.users.resets) != 0 {
		t.Fatal("token must be consumed")
	}
	if f.accounts.passwords["alice"] != "new-password-1" {
		t.Fatal("cloud password must mirror the local one")
	}
}

func TestRedeemResetRejectsExpiredToken(t *testing.T) {
	f := newFixture()
	user := domain.User{ID: "u1", Username: "alice"}
	f.users.byID[user.ID] = user
	f.users.resets["tok"] = domain.PasswordReset{
		ID: "r1", UserID: user.ID, Token: "tok",
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	if err := f.svc.RedeemReset(context.Background(), "alice", "tok", "new-password-1"); !errors.Is(err, errTokenExpired) {
		t.Fatalf("expected errTokenExpired, got %v", err)
	}
	if len(f.users.resets) != 0 {
		t.Fatal("expired token must be purged")
	}
}

func TestRedeemResetRejectsForeignToken(t *testing.T) {
	f := newFixture()
	f.users.byID["u1"] = domain.User{ID: "u1", Username: "alice"}
	f.users.byID["u2"] = domain.User{ID: "u2", Username: "bob"}
	f.users.resets["tok"] = domain.PasswordReset{
		ID: "r1", UserID: "u2", Token: "tok",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	if err := f.svc.RedeemReset(context.Background(), "alice", "tok", "new-password-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("token issued for another user must look absent, got %v", err)
	}
}

func TestRedeemResetRejectsShortPassword(t *testing.T) {
	f := newFixture()
	if err := f.svc.RedeemReset(context.Background(), "alice", "tok", "short"); !errors.Is(err, errWeakPassword) {
		t.Fatalf("expected errWeakPassword, got %v", err)
	}
}

func TestSyncCloudAccountStampsUser(t *testing.T) {
	f := newFixture()
	f.users.byID["u1"] = domain.User{ID: "u1", Username: "alice"}

	if err := f.svc.SyncCloudAccount(context.Background(), f.admin, "alice"); err != nil {
		t.Fatalf("SyncCloudAccount: %v", err)
	}
	if len(f.accounts.ensured) != 1 || f.accounts.ensured[0] != "alice" {
		t.Fatalf("cloud account not ensured: %v", f.accounts.ensured)
	}
	if len(f.users.touched) != 1 || f.users.touched[0] != "u1" {
		t.Fatalf("sync time not stamped: %v", f.users.touched)
	}
}
