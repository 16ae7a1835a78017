package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/pkg/jsonutil"
)

// actionArraySchema 只把守结构: 数组、每项是带 symbol/action 的对象。
// 数值字段允许模型回成字符串, 由 gjson 再做宽松转换。
const actionArraySchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["symbol", "action"],
    "properties": {
      "symbol": {"type": "string", "minLength": 1},
      "action": {"type": "string", "minLength": 1},
      "stop_loss": {"type": ["number", "string"]},
      "take_profit": {"type": ["number", "string"]},
      "position_size": {"type": ["number", "string"]},
      "quantity": {"type": ["number", "string"]},
      "entry": {"type": ["number", "string"]},
      "confidence": {"type": ["number", "string"]},
      "order_type": {"type": "string"},
      "direction": {"type": "string"},
      "reasoning": {"type": "string"}
    }
  }
}`

var compiledActionSchema = jsonschema.MustCompileString("actions.json", actionArraySchema)

// ParseActions 把模型原始回复解析成动作列表:
// 提取 JSON 片段 -> 收敛到数组 -> schema 校验 -> 字段宽松转换。
func ParseActions(raw string) ([]decision.Action, error) {
	text, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("回复中未找到 JSON")
	}
	text, err := coerceActionArray(text)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := compiledActionSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema 校验失败: %w", err)
	}
	var out []decision.Action
	gjson.Parse(text).ForEach(func(_, item gjson.Result) bool {
		out = append(out, decision.Action{
			Symbol:       strings.ToUpper(strings.TrimSpace(item.Get("symbol").String())),
			Action:       item.Get("action").String(),
			Direction:    item.Get("direction").String(),
			StopLoss:     item.Get("stop_loss").Float(),
			TakeProfit:   item.Get("take_profit").Float(),
			PositionSize: item.Get("position_size").Float(),
			Quantity:     item.Get("quantity").Float(),
			OrderType:    item.Get("order_type").String(),
			Entry:        item.Get("entry").Float(),
			Confidence:   item.Get("confidence").Float(),
			Reasoning:    item.Get("reasoning").String(),
		})
		return true
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("决策数组为空")
	}
	return out, nil
}

// coerceActionArray 容忍三种根形态: 数组原样返回; 对象带 decisions/actions
// 数组则取它; 对象本身就是单个动作则包成数组。
func coerceActionArray(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("json 内容为空")
	}
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("json 格式无效")
	}
	parsed := gjson.Parse(raw)
	if parsed.IsArray() {
		return raw, nil
	}
	if !parsed.IsObject() {
		return "", fmt.Errorf("根节点必须是 JSON 数组或对象")
	}
	for _, key := range []string{"decisions", "actions"} {
		if nested := parsed.Get(key); nested.Exists() {
			if !nested.IsArray() {
				return "", fmt.Errorf("%s 必须是数组", key)
			}
			return strings.TrimSpace(nested.Raw), nil
		}
	}
	if strings.TrimSpace(parsed.Get("action").String()) == "" {
		return "", fmt.Errorf("根节点为对象但未包含动作数组或 action 字段")
	}
	return "[" + raw + "]", nil
}
