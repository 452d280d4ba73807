package indicator

import "github.com/markcheno/go-talib"

// 中文说明：
// 波动率跟踪轨道（supertrend 风格）：基于 ATR 的上下轨只朝有利方向收敛，
// 处于上行状态时输出下轨（作为多头的移动止损锚），下行状态时输出上轨。
// talib 没有 supertrend，这里按经典 final-upper/final-lower 递推实现。

type bandSeries struct {
	line       []float64 // 当前生效的轨道值
	mid        []float64 // 上下轨中线
	up         []bool    // true=上行状态
	firstValid int
}

func computeBand(highs, lows, closes []float64, period int, mult float64) bandSeries {
	n := len(closes)
	out := bandSeries{
		line:       make([]float64, n),
		mid:        make([]float64, n),
		up:         make([]bool, n),
		firstValid: period + 1,
	}
	if n == 0 || period <= 0 || mult <= 0 || n <= period {
		out.firstValid = n + 1
		return out
	}
	atr := talib.Atr(highs, lows, closes, period)

	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)
	for i := period; i < n; i++ {
		median := (highs[i] + lows[i]) / 2
		basicUpper := median + mult*atr[i]
		basicLower := median - mult*atr[i]

		if i == period {
			finalUpper[i] = basicUpper
			finalLower[i] = basicLower
			out.up[i] = closes[i] >= median
		} else {
			// 上轨只降不升、下轨只升不降，除非前收盘已突破。
			finalUpper[i] = finalUpper[i-1]
			if basicUpper < finalUpper[i-1] || closes[i-1] > finalUpper[i-1] {
				finalUpper[i] = basicUpper
			}
			finalLower[i] = finalLower[i-1]
			if basicLower > finalLower[i-1] || closes[i-1] < finalLower[i-1] {
				finalLower[i] = basicLower
			}
			switch {
			case closes[i] > finalUpper[i]:
				out.up[i] = true
			case closes[i] < finalLower[i]:
				out.up[i] = false
			default:
				out.up[i] = out.up[i-1]
			}
		}
		if out.up[i] {
			out.line[i] = finalLower[i]
		} else {
			out.line[i] = finalUpper[i]
		}
		out.mid[i] = (finalUpper[i] + finalLower[i]) / 2
	}
	return out
}
