package signin

import (
	"fmt"
	"strings"
)

const (
	summaryTitle = "站点自动签到"

	ackStarted  = "开始站点签到 ..."
	ackFinished = "站点签到完成！"
	ackFailed   = "站点签到任务失败！"
)

// SummaryText renders the notification body of out: the three counters, then
// one line per result grouped by category in summary order.
func SummaryText(out RunOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "全部签到数量: %d \n", out.Total)
	fmt.Fprintf(&b, "本次签到数量: %d \n", out.Attempted)
	fmt.Fprintf(&b, "下次签到数量: %d \n", out.Pending)
	for _, cat := range Categories {
		for _, r := range out.Bucket(cat) {
			b.WriteString(r.Line())
			b.WriteByte('\n')
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
