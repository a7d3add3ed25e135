package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind 实体字段值的形态
type ValueKind int

const (
	// KindAbsent 缺失或 null
	KindAbsent ValueKind = iota
	// KindScalar 字符串、数字或布尔
	KindScalar
	// KindSequence 数组
	KindSequence
	// KindObject 对象
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindObject:
		return "object"
	default:
		return "absent"
	}
}

// FieldValue 远程服务返回的单个字段值，显式区分缺失、标量、序列和对象。
// 序列中的元素保持 JSON 解码后的原始形态（string / float64 / bool / map[string]any / []any）。
type FieldValue struct {
	Kind   ValueKind
	Scalar any
	Items  []any
	Object map[string]any
}

// NewFieldValue 将任意解码后的 JSON 值包装为 FieldValue
func NewFieldValue(v any) FieldValue {
	switch val := v.(type) {
	case nil:
		return FieldValue{}
	case FieldValue:
		return val
	case string, bool, float64, float32, int, int64, int32, json.Number:
		return FieldValue{Kind: KindScalar, Scalar: val}
	case []any:
		return FieldValue{Kind: KindSequence, Items: val}
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return FieldValue{Kind: KindSequence, Items: items}
	case map[string]any:
		return FieldValue{Kind: KindObject, Object: val}
	default:
		return FieldValue{Kind: KindScalar, Scalar: val}
	}
}

// Strings 构造字符串序列，便于测试和调用方组装记录
func Strings(values ...string) FieldValue {
	return NewFieldValue(values)
}

// Text 构造字符串标量
func Text(s string) FieldValue {
	return FieldValue{Kind: KindScalar, Scalar: s}
}

// IsEmpty 判断值是否为空：缺失、null、空字符串、空数组、空对象、数值0与false
func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case KindScalar:
		switch s := v.Scalar.(type) {
		case nil:
			return true
		case string:
			return s == ""
		case bool:
			return !s
		case float64:
			return s == 0
		case float32:
			return s == 0
		case int:
			return s == 0
		case int64:
			return s == 0
		case int32:
			return s == 0
		case json.Number:
			return s == "" || s == "0"
		}
		return false
	case KindSequence:
		return len(v.Items) == 0
	case KindObject:
		return len(v.Object) == 0
	default:
		return true
	}
}

// IsSequence 是否为数组
func (v FieldValue) IsSequence() bool {
	return v.Kind == KindSequence
}

// Clone 复制序列与对象的顶层容器，避免累加时修改输入记录
func (v FieldValue) Clone() FieldValue {
	out := v
	if v.Items != nil {
		out.Items = append([]any(nil), v.Items...)
	}
	if v.Object != nil {
		out.Object = make(map[string]any, len(v.Object))
		for k, val := range v.Object {
			out.Object[k] = val
		}
	}
	return out
}

// Interface 还原为普通的 JSON 值
func (v FieldValue) Interface() any {
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindSequence:
		return v.Items
	case KindObject:
		return v.Object
	default:
		return nil
	}
}

// Text 标量的字符串形式；序列返回以 ", " 连接的元素；缺失返回空串
func (v FieldValue) Text() string {
	switch v.Kind {
	case KindScalar:
		return ScalarText(v.Scalar)
	case KindSequence:
		return strings.Join(v.Strings(), ", ")
	default:
		return ""
	}
}

// Strings 序列中每个非空元素的字符串形式；标量返回单元素切片
func (v FieldValue) Strings() []string {
	switch v.Kind {
	case KindScalar:
		if v.IsEmpty() {
			return nil
		}
		return []string{ScalarText(v.Scalar)}
	case KindSequence:
		out := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if s := ScalarText(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ScalarText 将解码后的 JSON 值转换为字符串，对象与数组使用紧凑 JSON
func ScalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// MarshalJSON 输出原始 JSON 值
func (v FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON 从任意 JSON 值解码
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = NewFieldValue(raw)
	return nil
}
