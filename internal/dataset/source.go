package dataset

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"alphaforge/internal/logger"
)

// Source 提供一个数据集的完整矩阵。
type Source interface {
	Name() string
	Fetch(ctx context.Context, key string) (*Frame, error)
}

// HTTPSource 访问 finlab 风格的数据服务：
// GET {base}/data?dataset=<key>，Bearer token 鉴权，
// 响应为 {"index":[...dates], "columns":[...stock ids], "data":[[...]]}。
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

type HTTPSourceConfig struct {
	BaseURL         string
	Token           string
	TimeoutSeconds  int
	RateLimitPerMin int
}

func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("dataset: base_url 不能为空")
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 30
	}
	return &HTTPSource{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		client:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
	}, nil
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context, key string) (*Frame, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/data?dataset=%s", s.baseURL, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	logger.Debugf("[dataset] 拉取 %s", key)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataset: 拉取 %s 失败: %w", key, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("dataset: 拉取 %s 失败: status=%d: %s", key, resp.StatusCode, msg)
	}
	return ParseServiceJSON(body)
}

// ParseServiceJSON 把数据服务的 JSON 响应解析为 Frame。
func ParseServiceJSON(body []byte) (*Frame, error) {
	index := gjson.GetBytes(body, "index")
	columns := gjson.GetBytes(body, "columns")
	data := gjson.GetBytes(body, "data")
	if !index.Exists() || !columns.Exists() || !data.Exists() {
		return nil, fmt.Errorf("dataset: 响应缺少 index/columns/data")
	}
	var dates []time.Time
	for _, d := range index.Array() {
		t, err := time.Parse("2006-01-02", d.String())
		if err != nil {
			return nil, fmt.Errorf("dataset: 非法日期 %q: %w", d.String(), err)
		}
		dates = append(dates, t)
	}
	var stocks []string
	for _, c := range columns.Array() {
		stocks = append(stocks, c.String())
	}
	if len(dates) == 0 || len(stocks) == 0 {
		return nil, fmt.Errorf("dataset: 空数据集")
	}
	f := NewFrame(dates, stocks)
	rows := data.Array()
	if len(rows) != len(dates) {
		return nil, fmt.Errorf("dataset: data 行数 %d 与 index 长度 %d 不一致", len(rows), len(dates))
	}
	for i, row := range rows {
		cells := row.Array()
		if len(cells) != len(stocks) {
			return nil, fmt.Errorf("dataset: 第 %d 行列数 %d 与 columns 长度 %d 不一致", i, len(cells), len(stocks))
		}
		for j, cell := range cells {
			if cell.Type == gjson.Null {
				f.Values[i][j] = math.NaN()
				continue
			}
			f.Values[i][j] = cell.Float()
		}
	}
	return f, nil
}
