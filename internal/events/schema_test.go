package events

import (
	"context"
	"errors"
	"testing"

	"github.com/oriys/lambdasim/internal/domain"
)

func TestTypedSchema(t *testing.T) {
	schema := TypedSchema[domain.BetPlacedPayload]()
	valid := domain.BetPlacedPayload{BetID: "b1", UserID: "u1", GameID: "g1", Amount: 10, Odds: 2}

	tests := []struct {
		name    string
		payload any
		wantErr bool
	}{
		{name: "value", payload: valid, wantErr: false},
		{name: "pointer", payload: &valid, wantErr: false},
		{name: "matching map", payload: map[string]any{"betId": "b1", "userId": "u1", "gameId": "g1", "amount": 5, "odds": 1.5}, wantErr: false},
		{name: "unknown field", payload: map[string]any{"betId": "b1", "colour": "red"}, wantErr: true},
		{name: "failed field check", payload: domain.BetPlacedPayload{BetID: "b1"}, wantErr: true},
		{name: "wrong type", payload: "text", wantErr: true},
		{name: "nil pointer", payload: (*domain.BetPlacedPayload)(nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestBus_PublishSchemaMismatch 测试载荷不符合登记结构时拒绝发布且不追加记录
func TestBus_PublishSchemaMismatch(t *testing.T) {
	bus := newTestBus(0)
	bus.Schemas().Register(domain.EventUserCreated, TypedSchema[domain.UserCreatedPayload]())
	ctx := context.Background()

	_, err := bus.Publish(ctx, domain.StreamUserEvents, domain.EventUserCreated, map[string]any{"userId": "u1"})
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if got := len(bus.ReadRecent(domain.StreamUserEvents, 10)); got != 0 {
		t.Errorf("rejected publish must not append, got %d records", got)
	}

	// 未登记的事件类型按不透明载荷接受
	if _, err := bus.Publish(ctx, domain.StreamUserEvents, "USER_DELETED", 42); err != nil {
		t.Errorf("unregistered type should be accepted: %v", err)
	}
	if !bus.Schemas().Has(domain.EventUserCreated) || bus.Schemas().Has("USER_DELETED") {
		t.Error("unexpected registry contents")
	}
}
