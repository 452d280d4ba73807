package market

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Validate 检查单根K线的数值是否可用于决策。
// NaN/非正价格、high<low 一律视为脏数据。
func (c Candle) Validate() error {
	vals := [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("candle@%d: 包含 NaN/Inf", c.OpenTime)
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle@%d: 非正价格", c.OpenTime)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle@%d: 负成交量", c.OpenTime)
	}
	if c.High < c.Low {
		return fmt.Errorf("candle@%d: high < low", c.OpenTime)
	}
	return nil
}

// ValidateSeries 校验整段历史：升序、不重叠、逐根干净。
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 && candles[i].OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("series: index %d 乱序 (%d <= %d)", i, candles[i].OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}

// ParseInterval 将 "1m"/"15m"/"1h"/"4h"/"1d" 解析为 Duration。
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(interval))
	if len(s) < 2 {
		return 0, fmt.Errorf("interval 无法解析: %q", interval)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval 无法解析: %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("interval 单位不支持: %q", interval)
	}
}

// IntervalMinutes 返回周期的分钟数，供“持仓多少根bar”类换算使用。
func IntervalMinutes(interval string) (int, error) {
	d, err := ParseInterval(interval)
	if err != nil {
		return 0, err
	}
	return int(d / time.Minute), nil
}
