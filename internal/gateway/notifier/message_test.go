package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdown(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "📈",
		Title: "BTCUSDT 开仓",
		Sections: []MessageSection{{
			Title: "明细",
			Lines: []string{"方向: buy", "   ", "数量: 0.5 @ 100"},
		}},
		Footer:    "trend_following",
		Timestamp: time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC),
	}
	out := msg.RenderMarkdown()

	assert.True(t, strings.HasPrefix(out, "📈 BTCUSDT 开仓"))
	assert.Contains(t, out, "```")
	assert.Contains(t, out, "- 方向: buy")
	assert.Contains(t, out, "- 数量: 0.5 @ 100")
	assert.NotContains(t, out, "-  \n", "空白行被过滤")
	assert.Contains(t, out, "trend_following")
	assert.Contains(t, out, "时间：2026-08-30 10:15:00 UTC")
}

func TestRenderMarkdownEmptySections(t *testing.T) {
	msg := StructuredMessage{
		Title:    "权益熔断",
		Sections: []MessageSection{{Title: "空", Lines: []string{"", "  "}}},
	}
	out := msg.RenderMarkdown()
	assert.Equal(t, "权益熔断", out, "没有内容时不输出代码块")
}

func TestRenderMarkdownSanitizesFences(t *testing.T) {
	msg := StructuredMessage{
		Sections: []MessageSection{{Lines: []string{"原因: ```injection```"}}},
	}
	out := msg.RenderMarkdown()
	assert.Contains(t, out, "'''injection'''")
	// 只剩首尾两个合法围栏。
	assert.Equal(t, 2, strings.Count(out, "```"))
}

func TestRenderMarkdownTruncates(t *testing.T) {
	msg := StructuredMessage{
		Sections: []MessageSection{{Lines: []string{strings.Repeat("x", 5000)}}},
	}
	out := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}
