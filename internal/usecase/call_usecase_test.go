package usecase

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/justinchat/justinchat/internal/domain/models"
	"github.com/justinchat/justinchat/internal/invite"
)

var inviteSecret = []byte("call-usecase-secret")

type fakeUserRepo struct {
	users map[uuid.UUID]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *models.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	for _, user := range f.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func TestInviteIssuesFreshToken(t *testing.T) {
	caller := models.NewUser("alice", "alice@example.com", "x")
	callee := models.NewUser("bob", "bob@example.com", "x")

	uc := NewCallUsecase(inviteSecret, 15*time.Minute, newFakeUserRepo(caller, callee), newFakeCallRepo())

	token, err := uc.Invite(context.Background(), caller.ID, "bob")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	inv, err := invite.Parse(inviteSecret, token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if !inv.Fresh() {
		t.Fatal("invitation must be in fresh form")
	}
	if inv.CallersInfo.Caller.ID != caller.ID.String() || inv.CallersInfo.Callee.ID != callee.ID.String() {
		t.Fatalf("callersInfo = %+v", inv.CallersInfo)
	}
}

func TestInviteRejectsSelfCall(t *testing.T) {
	caller := models.NewUser("alice", "alice@example.com", "x")

	uc := NewCallUsecase(inviteSecret, 15*time.Minute, newFakeUserRepo(caller), newFakeCallRepo())

	if _, err := uc.Invite(context.Background(), caller.ID, "alice"); err == nil {
		t.Fatal("calling yourself must be rejected")
	}
}

func TestInviteUnknownCallee(t *testing.T) {
	caller := models.NewUser("alice", "alice@example.com", "x")

	uc := NewCallUsecase(inviteSecret, 15*time.Minute, newFakeUserRepo(caller), newFakeCallRepo())

	if _, err := uc.Invite(context.Background(), caller.ID, "nobody"); err == nil {
		t.Fatal("unknown callee must be rejected")
	}
}

func TestAcceptTokenForRingingCall(t *testing.T) {
	caller := models.NewUser("alice", "alice@example.com", "x")
	callee := models.NewUser("bob", "bob@example.com", "x")

	callRepo := newFakeCallRepo()
	if err := callRepo.CreateCall(context.Background(), &models.Call{
		ID:        uuid.New(),
		CallingID: "m3x9k1a0-abcdefgh",
		CallerID:  caller.ID,
		CalleeID:  callee.ID,
		StartedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	uc := NewCallUsecase(inviteSecret, 15*time.Minute, newFakeUserRepo(caller, callee), callRepo)

	token, err := uc.AcceptToken(context.Background(), "m3x9k1a0-abcdefgh")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	inv, err := invite.Parse(inviteSecret, token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if inv.Fresh() {
		t.Fatal("accept must issue a join-form invitation")
	}
	if inv.CallingID != "m3x9k1a0-abcdefgh" {
		t.Fatalf("callingId = %q", inv.CallingID)
	}
	if inv.CallersInfo.Callee.Username != "bob" {
		t.Fatalf("callersInfo = %+v", inv.CallersInfo)
	}
}

func TestAcceptTokenNoRingingCall(t *testing.T) {
	uc := NewCallUsecase(inviteSecret, 15*time.Minute, newFakeUserRepo(), newFakeCallRepo())

	if _, err := uc.AcceptToken(context.Background(), "m3x9k1a0-abcdefgh"); err == nil {
		t.Fatal("accept with no ringing call must fail")
	}
}
