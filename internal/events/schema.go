package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/oriys/lambdasim/internal/domain"
)

// Validator 校验事件载荷是否符合某个事件类型的结构。
type Validator interface {
	Validate(payload any) error
}

// ValidatorFunc 让普通函数满足 Validator 接口
type ValidatorFunc func(payload any) error

// Validate 调用 f(payload)
func (f ValidatorFunc) Validate(payload any) error {
	return f(payload)
}

// selfValidating 是载荷自身提供的字段校验
type selfValidating interface {
	Validate() error
}

// TypedSchema 返回要求载荷可表示为 T 的校验器。
// 载荷为 T 或 *T 时直接校验；其它值（如 map）经 JSON 转换为 T，
// 出现 T 中未定义的字段视为不匹配。T 实现 Validate() error 时一并调用。
func TypedSchema[T any]() Validator {
	return ValidatorFunc(func(payload any) error {
		var value T
		switch p := payload.(type) {
		case T:
			value = p
		case *T:
			if p == nil {
				return fmt.Errorf("nil %s payload", typeName[T]())
			}
			value = *p
		default:
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("payload is not serializable: %v", err)
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&value); err != nil {
				return fmt.Errorf("payload is not a %s: %v", typeName[T](), err)
			}
		}
		if v, ok := any(value).(selfValidating); ok {
			return v.Validate()
		}
		return nil
	})
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}

// SchemaRegistry 维护事件类型到载荷校验器的映射。
// 未登记的事件类型按不透明载荷处理，不做校验。
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]Validator
}

// NewSchemaRegistry 创建空的登记表
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]Validator)}
}

// Register 为事件类型登记校验器，重复登记时覆盖。
func (r *SchemaRegistry) Register(eventType string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[eventType] = v
}

// Has 返回事件类型是否已登记
func (r *SchemaRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[eventType]
	return ok
}

// Check 校验载荷，失败时返回包装 ErrSchemaMismatch 的错误。
func (r *SchemaRegistry) Check(eventType string, payload any) error {
	r.mu.RLock()
	v, ok := r.schemas[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := v.Validate(payload); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrSchemaMismatch, eventType, err)
	}
	return nil
}
