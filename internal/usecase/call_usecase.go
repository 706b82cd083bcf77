package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justinchat/justinchat/internal/domain"
	"github.com/justinchat/justinchat/internal/domain/models"
	"github.com/justinchat/justinchat/internal/infra/adapters/postgres/repository"
	"github.com/justinchat/justinchat/internal/invite"
)

const historyLimit = 50

// CallUsecase issues call-invitation tokens and serves call history.
type CallUsecase interface {
	// Invite issues a fresh invitation from the caller to the named user.
	Invite(ctx context.Context, callerID uuid.UUID, calleeUsername string) (string, error)

	// AcceptToken issues a join invitation into the ringing call scoped to
	// callingID.
	AcceptToken(ctx context.Context, callingID string) (string, error)

	History(ctx context.Context, userID uuid.UUID) ([]models.Call, error)
}

type callUsecase struct {
	inviteSecret []byte
	inviteTTL    time.Duration

	userRepo repository.UserRepository
	callRepo repository.CallRepository
}

func NewCallUsecase(
	inviteSecret []byte,
	inviteTTL time.Duration,
	userRepo repository.UserRepository,
	callRepo repository.CallRepository,
) CallUsecase {
	return &callUsecase{
		inviteSecret: inviteSecret,
		inviteTTL:    inviteTTL,
		userRepo:     userRepo,
		callRepo:     callRepo,
	}
}

func (uc *callUsecase) Invite(ctx context.Context, callerID uuid.UUID, calleeUsername string) (string, error) {
	caller, err := uc.userRepo.GetUserByID(ctx, callerID)
	if err != nil {
		return "", fmt.Errorf("load caller: %w", err)
	}

	callee, err := uc.userRepo.GetUserByUsername(ctx, calleeUsername)
	if err != nil {
		return "", fmt.Errorf("load callee: %w", err)
	}

	if caller.ID == callee.ID {
		return "", fmt.Errorf("caller and callee are the same user")
	}

	return invite.IssueFresh(uc.inviteSecret, caller.Participant(), callee.Participant(), uc.inviteTTL)
}

func (uc *callUsecase) AcceptToken(ctx context.Context, callingID string) (string, error) {
	call, err := uc.callRepo.GetRingingCall(ctx, callingID)
	if err != nil {
		return "", fmt.Errorf("load ringing call: %w", err)
	}

	caller, err := uc.userRepo.GetUserByID(ctx, call.CallerID)
	if err != nil {
		return "", fmt.Errorf("load caller: %w", err)
	}

	callee, err := uc.userRepo.GetUserByID(ctx, call.CalleeID)
	if err != nil {
		return "", fmt.Errorf("load callee: %w", err)
	}

	info := domain.CallersInfo{
		Caller: caller.Participant(),
		Callee: callee.Participant(),
	}

	return invite.IssueJoin(uc.inviteSecret, info, call.CallingID, uc.inviteTTL)
}

func (uc *callUsecase) History(ctx context.Context, userID uuid.UUID) ([]models.Call, error) {
	return uc.callRepo.ListByUser(ctx, userID, historyLimit)
}
