package notify

import (
	"fmt"
	"time"
)

// 仏暦 = 西暦 + 543
const buddhistEraOffset = 543

var thaiShortMonths = [...]string{
	"ม.ค.", "ก.พ.", "มี.ค.", "เม.ย.", "พ.ค.", "มิ.ย.",
	"ก.ค.", "ส.ค.", "ก.ย.", "ต.ค.", "พ.ย.", "ธ.ค.",
}

// FormatThaiDate: "19 ต.ค. 2569" 形式（loc の暦日で表示）
func FormatThaiDate(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%d %s %d", t.Day(), thaiShortMonths[t.Month()-1], t.Year()+buddhistEraOffset)
}

// FormatNotifyTime: 通知文頭の時刻 "19 ต.ค. 2569 เวลา 14:00 น."。
// rounded なら分を切り捨てて正時にする。
func FormatNotifyTime(t time.Time, loc *time.Location, rounded bool) string {
	t = t.In(loc)
	if rounded {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	}
	return fmt.Sprintf("%s เวลา %d:%02d น.", FormatThaiDate(t, loc), t.Hour(), t.Minute())
}
