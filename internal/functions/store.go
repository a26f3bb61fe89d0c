// Package functions 实现模拟器自带的投注示例函数。
// 函数之间通过内存中的 Store 共享用户与投注数据，并把领域事件发布到事件总线。
package functions

import (
	"fmt"
	"sync"

	"github.com/oriys/lambdasim/internal/domain"
)

// Store 是进程内的用户与投注存储，可被多个协程并发使用。
// 进程退出后数据丢失。
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.UserProfile
	bets     map[string]*domain.Bet
	betOrder []string
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{
		users: make(map[string]*domain.UserProfile),
		bets:  make(map[string]*domain.Bet),
	}
}

// CreateUser 保存新用户，用户名或邮箱已存在时返回 ErrConflict。
func (s *Store) CreateUser(user domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return fmt.Errorf("%w: user with this username or email already exists", domain.ErrConflict)
		}
	}
	u := user
	s.users[user.UserID] = &u
	return nil
}

// DeleteUser 删除用户，用于撤销发布失败的注册
func (s *Store) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// GetUser 返回用户副本
func (s *Store) GetUser(userID string) (domain.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.UserProfile{}, false
	}
	return *u, true
}

// PlaceBet 校验余额、扣除投注金额并保存 PENDING 状态的投注。
//
// 返回:
//   - float64: 扣款后的余额
//   - error: 用户不存在（ErrNotFound）或余额不足（ErrValidation）
func (s *Store) PlaceBet(bet domain.Bet) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[bet.UserID]
	if !ok {
		return 0, fmt.Errorf("%w: user %s", domain.ErrNotFound, bet.UserID)
	}
	if user.Balance < bet.Amount {
		return user.Balance, fmt.Errorf("%w: insufficient balance", domain.ErrValidation)
	}

	user.Balance -= bet.Amount
	b := bet
	b.Status = domain.BetStatusPending
	s.bets[b.BetID] = &b
	s.betOrder = append(s.betOrder, b.BetID)
	return user.Balance, nil
}

// CancelBet 撤销一笔 PENDING 投注并退还金额，返回退款后的余额。
// 投注不存在或已结算时返回 ErrNotFound。
func (s *Store) CancelBet(betID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[betID]
	if !ok || bet.Status != domain.BetStatusPending {
		return 0, fmt.Errorf("%w: pending bet %s", domain.ErrNotFound, betID)
	}
	delete(s.bets, betID)
	for i, id := range s.betOrder {
		if id == betID {
			s.betOrder = append(s.betOrder[:i], s.betOrder[i+1:]...)
			break
		}
	}

	var balance float64
	if user, ok := s.users[bet.UserID]; ok {
		user.Balance += bet.Amount
		balance = user.Balance
	}
	return balance, nil
}

// Settlement 是一笔投注的结算结果。
type Settlement struct {
	Bet      domain.Bet
	Winnings float64
}

// SettleGame 结算某场比赛全部 PENDING 状态的投注。
// won 为 true 时投注变为 WON，并按 金额×赔率 返还给用户；否则变为 LOST。
// 按下注顺序返回结算结果，没有待结算投注时返回空切片。
func (s *Store) SettleGame(gameID string, won bool) []Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settled []Settlement
	for _, id := range s.betOrder {
		bet := s.bets[id]
		if bet.GameID != gameID || bet.Status != domain.BetStatusPending {
			continue
		}
		st := Settlement{}
		if won {
			bet.Status = domain.BetStatusWon
			st.Winnings = bet.Amount * bet.Odds
			if user, ok := s.users[bet.UserID]; ok {
				user.Balance += st.Winnings
			}
		} else {
			bet.Status = domain.BetStatusLost
		}
		st.Bet = *bet
		settled = append(settled, st)
	}
	return settled
}

// RevertSettlements 把 SettleGame 的结果恢复为 PENDING，并扣回已派发的奖金
func (s *Store) RevertSettlements(settled []Settlement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range settled {
		bet, ok := s.bets[st.Bet.BetID]
		if !ok || bet.Status != st.Bet.Status {
			continue
		}
		bet.Status = domain.BetStatusPending
		if st.Winnings > 0 {
			if user, ok := s.users[bet.UserID]; ok {
				user.Balance -= st.Winnings
			}
		}
	}
}

// UserBets 按下注顺序返回用户的全部投注
func (s *Store) UserBets(userID string) []domain.Bet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for _, id := range s.betOrder {
		if bet := s.bets[id]; bet.UserID == userID {
			out = append(out, *bet)
		}
	}
	return out
}

// Stats 汇总用户的投注统计，胜率保留两位小数。
func Stats(bets []domain.Bet) domain.BettingStats {
	stats := domain.BettingStats{TotalBets: len(bets)}
	for _, bet := range bets {
		switch bet.Status {
		case domain.BetStatusWon:
			stats.WonBets++
		case domain.BetStatusLost:
			stats.LostBets++
		case domain.BetStatusPending:
			stats.PendingBets++
		}
	}
	rate := 0.0
	if stats.TotalBets > 0 {
		rate = float64(stats.WonBets) / float64(stats.TotalBets) * 100
	}
	stats.WinRate = fmt.Sprintf("%.2f%%", rate)
	return stats
}
