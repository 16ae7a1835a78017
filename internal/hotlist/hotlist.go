// Package hotlist 定时拉取热门币种榜单并写入存储，供调度器并入监控池。
package hotlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/liliangjiep/nofv/internal/logger"
)

// SymbolProvider 币种来源接口
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// NormalizeSymbols 标准化币种列表：去重、转大写、添加 USDT 后缀
func NormalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, errors.New("symbol list is empty")
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, "USDT") {
			s += "USDT"
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("symbol list is empty after normalization")
	}
	return out, nil
}

// HTTPSymbolProvider 从榜单 API 拉取热门币种。
// 兼容三种响应：裸数组、{"symbols": [...]}、{"data":{"coins":[{"pair": ...}]}}。
type HTTPSymbolProvider struct {
	URL     string
	Exclude map[string]bool
	Client  *http.Client
}

func NewHTTPSymbolProvider(url string, exclude []string) *HTTPSymbolProvider {
	ex := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		ex[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return &HTTPSymbolProvider{
		URL:     url,
		Exclude: ex,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPSymbolProvider) Name() string { return "http" }

func (p *HTTPSymbolProvider) List(ctx context.Context) ([]string, error) {
	if p.URL == "" {
		return nil, errors.New("hotlist URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching symbols: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return p.parse(string(body))
}

func (p *HTTPSymbolProvider) parse(body string) ([]string, error) {
	var raw []string
	collect := func(value gjson.Result) bool {
		if s := value.String(); s != "" {
			raw = append(raw, s)
		}
		return true
	}
	switch {
	case gjson.Parse(body).IsArray():
		gjson.Parse(body).ForEach(func(_, v gjson.Result) bool { return collect(v) })
	case gjson.Get(body, "symbols").IsArray():
		gjson.Get(body, "symbols").ForEach(func(_, v gjson.Result) bool { return collect(v) })
	case gjson.Get(body, "data.coins").IsArray():
		gjson.Get(body, "data.coins").ForEach(func(_, v gjson.Result) bool {
			return collect(v.Get("pair"))
		})
	default:
		return nil, errors.New("unrecognized hotlist response")
	}

	normalized, err := NormalizeSymbols(raw)
	if err != nil {
		return nil, err
	}
	out := normalized[:0]
	for _, s := range normalized {
		if !p.Exclude[s] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("symbol list is empty after exclusion")
	}
	sort.Strings(out)
	return out, nil
}

// Sink 榜单的落地端。
type Sink interface {
	ReplaceHotSymbols(ctx context.Context, symbols []string) error
}

// Refresher 周期性刷新榜单。整点那一拍跳过，榜单源整点数据不稳定。
type Refresher struct {
	Provider SymbolProvider
	Sink     Sink
	Interval time.Duration

	now func() time.Time
}

func NewRefresher(provider SymbolProvider, sink Sink, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Refresher{Provider: provider, Sink: sink, Interval: interval, now: time.Now}
}

// Run 阻塞到 ctx 取消。启动时先刷一次。
func (r *Refresher) Run(ctx context.Context) {
	r.refresh(ctx)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if r.now().Minute() == 0 {
		logger.Debugf("整点跳过热门榜刷新")
		return
	}
	symbols, err := r.Provider.List(ctx)
	if err != nil {
		logger.Warnf("热门榜获取失败: %v", err)
		return
	}
	if err := r.Sink.ReplaceHotSymbols(ctx, symbols); err != nil {
		logger.Warnf("热门榜写入失败: %v", err)
		return
	}
	logger.Infof("热门榜更新成功: %d 个币种", len(symbols))
}
