package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPromptFull = `你是一个加密货币合约交易决策引擎。输入是账户状态、持仓明细和
若干币种的多周期市场结构快照（趋势、HH/HL/LH/LL、区间边界、BOS/CHoCH、ATR）。
只根据输入数据做判断, 不要编造行情。

输出要求: 只输出一个 JSON 数组, 不要输出任何解释文字。数组元素格式:
{"symbol":"BTCUSDT","action":"open_long","stop_loss":0,"take_profit":0,
 "position_size":0,"order_type":"market","entry":0,"confidence":75,
 "reasoning":"..."}

允许的 action: open_long, open_short, open_long_limit, open_short_limit,
close_long, close_short, increase_position, decrease_position,
update_stop_loss, update_take_profit, hold, wait。
开仓必须给出 stop_loss、take_profit 和 position_size(USDT 名义)。
限价开仓必须给出 entry。没有机会就对该币种输出 wait。`

const systemPromptManage = `你是一个加密货币合约持仓管理引擎。当前处于风控模式: 只能管理
已有持仓, 禁止开新仓。

输出要求: 只输出一个 JSON 数组, 元素格式同标准决策。允许的 action:
close_long, close_short, decrease_position, update_stop_loss,
update_take_profit, hold。只对输入里出现的持仓币种输出动作。`

// SystemPrompt 按运行模式选择系统提示词。
func SystemPrompt(mode string) string {
	if strings.EqualFold(mode, "manage") {
		return systemPromptManage
	}
	return systemPromptFull
}

// UserPrompt 把快照序列化成模型输入。
func UserPrompt(snap Snapshot) (string, error) {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	var b strings.Builder
	b.WriteString("当前时间: ")
	b.WriteString(snap.Time.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "\n最大同时持仓数: %d, 当前持仓数: %d\n\n", snap.MaxPositions, len(snap.Positions))
	b.WriteString("市场快照:\n")
	b.Write(payload)
	return b.String(), nil
}
