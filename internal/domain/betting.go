// Package domain 定义了本地 Lambda 模拟器的核心领域模型。
package domain

import (
	"errors"
	"time"
)

// 事件流名称
const (
	StreamUserEvents = "user-events"
	StreamBetEvents  = "bet-events"
	StreamGameEvents = "game-events"
)

// 事件类型
const (
	EventUserCreated = "USER_CREATED"
	EventBetPlaced   = "BET_PLACED"
	EventBetWon      = "BET_WON"
	EventBetLost     = "BET_LOST"
	EventGameResult  = "GAME_RESULT"
)

// InitialBalance 是新用户的初始余额
const InitialBalance = 1000.0

// GameOutcomeWin 是表示赢局的比赛结果取值
const GameOutcomeWin = "WIN"

// BetStatus 表示投注状态。
type BetStatus string

// 投注状态常量定义
const (
	BetStatusPending BetStatus = "PENDING"
	BetStatusWon     BetStatus = "WON"
	BetStatusLost    BetStatus = "LOST"
)

// UserProfile 表示注册用户。
type UserProfile struct {
	UserID           string  `json:"userId"`
	Username         string  `json:"username"`
	Email            string  `json:"email"`
	RegistrationDate string  `json:"registrationDate"`
	Balance          float64 `json:"balance"`
}

// Bet 表示一笔投注。
type Bet struct {
	BetID     string    `json:"betId"`
	UserID    string    `json:"userId"`
	GameID    string    `json:"gameId"`
	Amount    float64   `json:"amount"`
	Odds      float64   `json:"odds"`
	Timestamp string    `json:"timestamp"`
	Status    BetStatus `json:"status"`
}

// GameResult 表示一场比赛的结果。
type GameResult struct {
	GameID    string `json:"gameId"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// BettingStats 是用户资料中的投注统计。
type BettingStats struct {
	TotalBets   int    `json:"totalBets"`
	WonBets     int    `json:"wonBets"`
	LostBets    int    `json:"lostBets"`
	PendingBets int    `json:"pendingBets"`
	WinRate     string `json:"winRate"`
}

// ========== 事件载荷 ==========
// 每种事件类型对应一个载荷结构，发布时由总线按类型校验。

// UserCreatedPayload 是 USER_CREATED 事件载荷
type UserCreatedPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// Validate 校验必填字段
func (p UserCreatedPayload) Validate() error {
	if p.UserID == "" || p.Username == "" || p.Email == "" {
		return errors.New("userId, username and email are required")
	}
	return nil
}

// BetPlacedPayload 是 BET_PLACED 事件载荷
type BetPlacedPayload struct {
	BetID     string  `json:"betId"`
	UserID    string  `json:"userId"`
	GameID    string  `json:"gameId"`
	Amount    float64 `json:"amount"`
	Odds      float64 `json:"odds"`
	Timestamp string  `json:"timestamp"`
}

// Validate 校验必填字段
func (p BetPlacedPayload) Validate() error {
	if p.BetID == "" || p.UserID == "" || p.GameID == "" {
		return errors.New("betId, userId and gameId are required")
	}
	if p.Amount <= 0 || p.Odds <= 0 {
		return errors.New("amount and odds must be positive")
	}
	return nil
}

// BetSettledPayload 是 BET_WON / BET_LOST 事件载荷，输局时 Winnings 为 0
type BetSettledPayload struct {
	BetID     string  `json:"betId"`
	UserID    string  `json:"userId"`
	GameID    string  `json:"gameId"`
	Amount    float64 `json:"amount"`
	Winnings  float64 `json:"winnings,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// Validate 校验必填字段
func (p BetSettledPayload) Validate() error {
	if p.BetID == "" || p.UserID == "" || p.GameID == "" {
		return errors.New("betId, userId and gameId are required")
	}
	return nil
}

// GameResultPayload 是 GAME_RESULT 事件载荷
type GameResultPayload struct {
	GameID        string `json:"gameId"`
	Result        string `json:"result"`
	ProcessedBets int    `json:"processedBets"`
	Timestamp     string `json:"timestamp"`
}

// Validate 校验必填字段
func (p GameResultPayload) Validate() error {
	if p.GameID == "" || p.Result == "" {
		return errors.New("gameId and result are required")
	}
	return nil
}

// Timestamp 返回业务记录使用的 ISO-8601 时间文本。
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
