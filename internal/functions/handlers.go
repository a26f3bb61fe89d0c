package functions

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/oriys/lambdasim/internal/domain"
	"github.com/sirupsen/logrus"
)

type registrationRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserRegistration 注册用户并发布 USER_CREATED 事件。
// POST /users
//
// 返回值：
//   - 201: {message, user}
//   - 400: 缺少 username 或 email
//   - 409: 用户名或邮箱已存在
func (f *Functions) UserRegistration(ctx context.Context, event *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
	f.entry(lc).Info("User registration function invoked")

	var req registrationRequest
	if err := event.DecodeBody(&req); err != nil {
		return invalid("Invalid request body"), nil
	}
	if req.Username == "" || req.Email == "" {
		return invalid("Missing required fields: username and email are required."), nil
	}

	now := domain.Timestamp(f.now())
	user := domain.UserProfile{
		UserID:           f.newID(),
		Username:         req.Username,
		Email:            req.Email,
		RegistrationDate: now,
		Balance:          domain.InitialBalance,
	}
	if err := f.store.CreateUser(user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrorResult(err, "User with this username or email already exists"), nil
		}
		return nil, err
	}

	if _, err := f.publisher.Publish(ctx, domain.StreamUserEvents, domain.EventUserCreated, domain.UserCreatedPayload{
		UserID:    user.UserID,
		Username:  user.Username,
		Email:     user.Email,
		Timestamp: now,
	}); err != nil {
		f.store.DeleteUser(user.UserID)
		return nil, fmt.Errorf("publish %s: %w", domain.EventUserCreated, err)
	}

	return domain.JSONResult(http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user": map[string]any{
			"userId":           user.UserID,
			"username":         user.Username,
			"email":            user.Email,
			"registrationDate": user.RegistrationDate,
		},
	}), nil
}

type betRequest struct {
	UserID string  `json:"userId"`
	GameID string  `json:"gameId"`
	Amount float64 `json:"amount"`
	Odds   float64 `json:"odds"`
}

// PlaceBet 扣除余额、记录投注并发布 BET_PLACED 事件。
// POST /bets
//
// 返回值：
//   - 201: {message, bet, currentBalance}
//   - 400: 缺少字段、金额或赔率非正、余额不足
//   - 404: 用户不存在
func (f *Functions) PlaceBet(ctx context.Context, event *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
	f.entry(lc).Info("Place bet function invoked")

	var req betRequest
	if err := event.DecodeBody(&req); err != nil {
		return invalid("Invalid request body"), nil
	}
	if req.UserID == "" || req.GameID == "" || req.Amount <= 0 || req.Odds <= 0 {
		return invalid("Missing required fields: userId, gameId, amount, and odds are required"), nil
	}

	now := domain.Timestamp(f.now())
	bet := domain.Bet{
		BetID:     f.newID(),
		UserID:    req.UserID,
		GameID:    req.GameID,
		Amount:    req.Amount,
		Odds:      req.Odds,
		Timestamp: now,
		Status:    domain.BetStatusPending,
	}
	balance, err := f.store.PlaceBet(bet)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrorResult(err, "User not found"), nil
	case errors.Is(err, domain.ErrValidation):
		return domain.ErrorResult(err, "Insufficient balance"), nil
	case err != nil:
		return nil, err
	}

	if _, err := f.publisher.Publish(ctx, domain.StreamBetEvents, domain.EventBetPlaced, domain.BetPlacedPayload{
		BetID:     bet.BetID,
		UserID:    bet.UserID,
		GameID:    bet.GameID,
		Amount:    bet.Amount,
		Odds:      bet.Odds,
		Timestamp: now,
	}); err != nil {
		if _, cerr := f.store.CancelBet(bet.BetID); cerr != nil {
			f.entry(lc).WithError(cerr).Warn("Failed to cancel bet after publish failure")
		}
		return nil, fmt.Errorf("publish %s: %w", domain.EventBetPlaced, err)
	}

	return domain.JSONResult(http.StatusCreated, map[string]any{
		"message": "Bet placed successfully",
		"bet": map[string]any{
			"betId":     bet.BetID,
			"gameId":    bet.GameID,
			"amount":    bet.Amount,
			"odds":      bet.Odds,
			"timestamp": bet.Timestamp,
			"status":    bet.Status,
		},
		"currentBalance": balance,
	}), nil
}

type resultRequest struct {
	GameID string `json:"gameId"`
	Result string `json:"result"`
}

type processedBet struct {
	BetID  string           `json:"betId"`
	UserID string           `json:"userId"`
	Status domain.BetStatus `json:"status"`
}

// ProcessResult 结算比赛的待结算投注，发布 BET_WON / BET_LOST 与 GAME_RESULT 事件。
// POST /games/result
//
// 返回值：
//   - 200: {message, game, betsProcessed}
//   - 400: 缺少 gameId 或 result
//   - 404: 该比赛没有待结算投注
func (f *Functions) ProcessResult(ctx context.Context, event *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
	log := f.entry(lc)
	log.Info("Process game result function invoked")

	var req resultRequest
	if err := event.DecodeBody(&req); err != nil {
		return invalid("Invalid request body"), nil
	}
	if req.GameID == "" || req.Result == "" {
		return invalid("Missing required fields: gameId and result are required"), nil
	}

	now := domain.Timestamp(f.now())
	won := req.Result == domain.GameOutcomeWin
	settled := f.store.SettleGame(req.GameID, won)
	if len(settled) == 0 {
		return notFound("No pending bets found for this game"), nil
	}

	processed := make([]processedBet, 0, len(settled))
	for _, st := range settled {
		payload := domain.BetSettledPayload{
			BetID:     st.Bet.BetID,
			UserID:    st.Bet.UserID,
			GameID:    st.Bet.GameID,
			Amount:    st.Bet.Amount,
			Timestamp: now,
		}
		eventType := domain.EventBetLost
		if won {
			eventType = domain.EventBetWon
			payload.Winnings = st.Winnings
		}
		if _, err := f.publisher.Publish(ctx, domain.StreamBetEvents, eventType, payload); err != nil {
			f.store.RevertSettlements(settled)
			return nil, fmt.Errorf("publish %s: %w", eventType, err)
		}
		processed = append(processed, processedBet{
			BetID:  st.Bet.BetID,
			UserID: st.Bet.UserID,
			Status: st.Bet.Status,
		})
	}

	if _, err := f.publisher.Publish(ctx, domain.StreamGameEvents, domain.EventGameResult, domain.GameResultPayload{
		GameID:        req.GameID,
		Result:        req.Result,
		ProcessedBets: len(processed),
		Timestamp:     now,
	}); err != nil {
		f.store.RevertSettlements(settled)
		return nil, fmt.Errorf("publish %s: %w", domain.EventGameResult, err)
	}

	log.WithFields(logrus.Fields{
		"game_id":        req.GameID,
		"result":         req.Result,
		"bets_processed": len(processed),
	}).Info("Game result processed")

	return domain.JSONResult(http.StatusOK, map[string]any{
		"message": "Game result processed successfully",
		"game": domain.GameResult{
			GameID:    req.GameID,
			Result:    req.Result,
			Timestamp: now,
		},
		"betsProcessed": processed,
	}), nil
}

// GetUserProfile 返回用户资料与投注统计。
// GET /users/{userId}
//
// 返回值：
//   - 200: 用户资料与 bettingStats
//   - 400: 缺少 userId
//   - 404: 用户不存在
func (f *Functions) GetUserProfile(ctx context.Context, event *domain.InvocationEvent, lc *domain.InvocationContext) (*domain.HandlerResult, error) {
	f.entry(lc).Info("Get user profile function invoked")

	userID := event.PathParameter("userId")
	if userID == "" {
		return invalid("Missing required parameter: userId"), nil
	}

	user, ok := f.store.GetUser(userID)
	if !ok {
		return notFound("User not found"), nil
	}

	return domain.JSONResult(http.StatusOK, map[string]any{
		"userId":           user.UserID,
		"username":         user.Username,
		"email":            user.Email,
		"registrationDate": user.RegistrationDate,
		"balance":          user.Balance,
		"bettingStats":     Stats(f.store.UserBets(userID)),
	}), nil
}
