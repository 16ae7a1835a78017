package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/logger"
	"github.com/liliangjiep/nofv/internal/pkg/circuit"
)

// ErrCircuitOpen 决策服务连续失败，熔断器打开期间直接拒绝调用。
var ErrCircuitOpen = errors.New("oracle circuit open")

// ChatOracle 基于 chat completions 的 Oracle 实现。
type ChatOracle struct {
	Name    string
	Client  ChatClient
	breaker *circuit.Breaker
}

func NewChatOracle(name string, client ChatClient) *ChatOracle {
	if name == "" {
		name = "oracle"
	}
	return &ChatOracle{
		Name:    name,
		Client:  client,
		breaker: circuit.NewBreaker("oracle", 3, 2*time.Minute),
	}
}

func (o *ChatOracle) ProposeActions(ctx context.Context, snap Snapshot) ([]decision.Action, error) {
	if o.breaker != nil && !o.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	system := SystemPrompt(snap.Mode)
	user, err := UserPrompt(snap)
	if err != nil {
		return nil, err
	}
	// 请求与响应日志靠同一个 id 关联
	reqID := uuid.NewString()
	logger.Infof("模型决策请求 | id=%s | mode=%s | 持仓=%d 候选=%d",
		reqID, snap.Mode, len(snap.Positions), len(snap.Reports))
	logger.LogOracleRequest(o.Name, system, user, "")
	raw, err := o.Client.CallWithMessages(ctx, system, user)
	if o.breaker != nil {
		if err != nil {
			o.breaker.RecordFailure()
		} else {
			o.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("oracle call: %w", err)
	}
	logger.LogOracleResponse(o.Name, raw)
	actions, err := ParseActions(raw)
	if err != nil {
		return nil, fmt.Errorf("oracle parse: %w", err)
	}
	logger.Infof("模型决策返回 | id=%s | %d 条动作", reqID, len(actions))
	return actions, nil
}
