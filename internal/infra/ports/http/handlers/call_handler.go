package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/justinchat/justinchat/internal/application/constant"
	"github.com/justinchat/justinchat/internal/infra/appctx"
	"github.com/justinchat/justinchat/internal/infra/ports/http/dto"
	"github.com/justinchat/justinchat/internal/usecase"
)

type CallHandler struct {
	callUsecase usecase.CallUsecase
}

func NewCallHandler(callUsecase usecase.CallUsecase) *CallHandler {
	return &CallHandler{callUsecase: callUsecase}
}

// Invite issues a fresh call-invitation token for the named callee.
func (h *CallHandler) Invite(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	var req dto.InviteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.CalleeUsername == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "calleeUsername is required"})
	}

	token, err := h.callUsecase.Invite(c.Request().Context(), userID, req.CalleeUsername)
	if err != nil {
		slog.Error("issue invitation failed",
			slog.Any(constant.Error, err),
			slog.Any(constant.UserID, userID),
		)
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "could not issue invitation"})
	}

	return c.JSON(http.StatusOK, dto.InviteResponse{Token: token})
}

// Accept issues a join token into the ringing call scoped to :id.
func (h *CallHandler) Accept(c echo.Context) error {
	callingID := c.Param("id")
	if callingID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing calling id"})
	}

	token, err := h.callUsecase.AcceptToken(c.Request().Context(), callingID)
	if err != nil {
		slog.Error("issue join invitation failed",
			slog.Any(constant.Error, err),
			slog.String(constant.CallingID, callingID),
		)
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no ringing call for this id"})
	}

	return c.JSON(http.StatusOK, dto.InviteResponse{Token: token})
}

func (h *CallHandler) History(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	calls, err := h.callUsecase.History(c.Request().Context(), userID)
	if err != nil {
		slog.Error("load call history failed",
			slog.Any(constant.Error, err),
			slog.Any(constant.UserID, userID),
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not load history"})
	}

	entries := make([]dto.CallHistoryEntry, 0, len(calls))
	for _, call := range calls {
		entries = append(entries, dto.CallHistoryEntry{
			ID:        call.ID,
			CallingID: call.CallingID,
			CallerID:  call.CallerID,
			CalleeID:  call.CalleeID,
			StartedAt: call.StartedAt,
			EndedAt:   call.EndedAt,
		})
	}

	return c.JSON(http.StatusOK, entries)
}
