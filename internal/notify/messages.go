package notify

import (
	"fmt"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"golang.org/x/text/unicode/norm"

	"github.com/kanatamon/covid19-home-isolation/internal/contacts"
	"github.com/kanatamon/covid19-home-isolation/internal/line"
	"github.com/kanatamon/covid19-home-isolation/internal/treatment"
)

const (
	iconFilledURL  = "https://res.cloudinary.com/domumsbbo/image/upload/v1648637724/sun__filled_rm7pys.png"
	iconOutlineURL = "https://res.cloudinary.com/domumsbbo/image/upload/v1648637724/sun__shape_onsuok.png"
	statusHeroURL  = "https://res.cloudinary.com/cloudinary-marketing/image/upload/v1645810923/demo_image_2x.jpg"
	locationHero   = "https://res.cloudinary.com/domumsbbo/image/upload/v1648638420/henry-perks-BJXAxQ1L7dI-unsplash_oscsk8.jpg"

	hospitalName       = "รพ.ค่ายเทพสตรีศรีสุนทร"
	contactLocationURL = "/contact/location"
)

// Messages: 通知文面を組み立てる。日付はすべて Calendar のタイムゾーンで表示する。
type Messages struct {
	calc    *treatment.Calculator
	liffURL func(path string) string
}

func NewMessages(calc *treatment.Calculator, liffURL func(path string) string) *Messages {
	return &Messages{calc: calc, liffURL: liffURL}
}

func (m *Messages) date(c contacts.Contact) string {
	return FormatThaiDate(c.AdmittedAt, m.calc.Calendar().Location())
}

func (m *Messages) now(rounded bool) string {
	cal := m.calc.Calendar()
	return FormatNotifyTime(cal.Now(), cal.Location(), rounded)
}

// displayName: LINE 表示名（NFC に正規化）。無ければ空。
func displayName(c contacts.Contact) string {
	if c.LineDisplayName == nil {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(*c.LineDisplayName))
}

func honorific(c contacts.Contact) string {
	if n := displayName(c); n != "" {
		return "คุณ" + n
	}
	return ""
}

// ===== daily-treatment-status =====

func text(s, size, color string) *messaging_api.FlexText {
	return &messaging_api.FlexText{Text: s, Size: size, Color: color}
}

func (m *Messages) TreatmentStatus(c contacts.Contact) line.Message {
	loc := m.calc.Calendar().Location()
	days := m.calc.Policy().TreatmentDays
	count := m.calc.TreatmentDayCount(c.AdmittedAt)

	viz := make([]messaging_api.FlexComponentInterface, 0, days+1)
	for i := 0; i < days; i++ {
		url := iconOutlineURL
		if count > i {
			url = iconFilledURL
		}
		viz = append(viz, &messaging_api.FlexIcon{Url: url, Size: "md"})
	}
	dayCount := text(fmt.Sprintf("รักษามาแล้ว %d วัน", count), "sm", "#999999")
	dayCount.Gravity = messaging_api.FlexTextGRAVITY_CENTER
	dayCount.Margin = "md"
	viz = append(viz, dayCount)

	row := func(label, value string) *messaging_api.FlexBox {
		l := text(label, "sm", "#AAAAAA")
		l.Flex = 2
		v := text(value, "sm", "#666666")
		v.Flex = 5
		v.Wrap = true
		b := line.Box(messaging_api.FlexBoxLAYOUT_BASELINE, l, v)
		b.Spacing = "sm"
		return b
	}

	heading := text("รายชื่อผู้ป่วย", "", "#666666")
	heading.Decoration = messaging_api.FlexTextDECORATION_UNDERLINE
	patients := []messaging_api.FlexComponentInterface{heading}
	for i, p := range c.Patients {
		num := text(fmt.Sprintf("%d.", i+1), "sm", "#AAAAAA")
		num.Flex = 1
		num.Align = messaging_api.FlexTextALIGN_END
		name := text(norm.NFC.String(p.Name), "sm", "#666666")
		name.Flex = 15
		name.OffsetStart = "8px"
		patients = append(patients, line.Box(messaging_api.FlexBoxLAYOUT_BASELINE, num, name))
	}

	title := text("แจ้งข้อมูลการรักษาประจำ", "md", "")
	title.Weight = messaging_api.FlexTextWEIGHT_BOLD
	title.Wrap = true
	today := text(fmt.Sprintf("วันที่ %s คุณกำลังอยู่ในกระบวนการรักษาที่บ้าน", m.now(false)), "sm", "")
	today.Wrap = true

	todayBox := line.Box(messaging_api.FlexBoxLAYOUT_BASELINE, today)
	todayBox.Margin = "md"
	vizBox := line.Box(messaging_api.FlexBoxLAYOUT_BASELINE, viz...)
	vizBox.Margin = "md"
	dates := line.Box(messaging_api.FlexBoxLAYOUT_VERTICAL,
		row("เข้าระบบ", "วันที่ "+m.date(c)),
		row("ครบกักตัว", "วันที่ "+FormatThaiDate(m.calc.RecoveryDate(c.AdmittedAt), loc)),
	)
	dates.Spacing = "sm"
	dates.Margin = "lg"
	list := line.Box(messaging_api.FlexBoxLAYOUT_VERTICAL, patients...)
	list.Spacing = "sm"
	list.Margin = "lg"

	return line.NewFlexMessage("แจ้งข้อมูลการรักษาประจำ", &messaging_api.FlexBubble{
		Hero: &messaging_api.FlexImage{
			Url:         statusHeroURL,
			Size:        "full",
			AspectRatio: "20:13",
			AspectMode:  messaging_api.FlexImageASPECT_MODE_COVER,
		},
		Body: line.Box(messaging_api.FlexBoxLAYOUT_VERTICAL,
			line.Box(messaging_api.FlexBoxLAYOUT_BASELINE, title),
			todayBox,
			vizBox,
			dates,
			list,
		),
	})
}

// ===== daily-meal-check / daily-health-check =====

func (m *Messages) MealCheck(c contacts.Contact) line.Message {
	msg := line.NewTextMessage(fmt.Sprintf("%s ขอให้ ผู้รักษาตัว %s ส่งรูป อาหารกลางวัน มาด้วยนะคะ", m.now(true), honorific(c)))
	msg.QuickReply = line.CameraRollReply("ส่งรูป")
	return msg
}

func (m *Messages) HealthCheck(c contacts.Contact) line.Message {
	msg := line.NewTextMessage(fmt.Sprintf("%s ขอให้ ผู้รักษาตัว %s ส่งรูป วัดอุณหภูมิ และค่าออกซิเจน มาด้วยค่ะ", m.now(true), honorific(c)))
	msg.QuickReply = line.CameraRollReply("ส่งรูป")
	return msg
}

// ===== end-of-treatment =====

// EndOfTreatment: 回復日前日・当日の両方で同じ文面を使う
func (m *Messages) EndOfTreatment(c contacts.Contact) line.Message {
	loc := m.calc.Calendar().Location()
	admitted := m.date(c)
	recovery := FormatThaiDate(m.calc.RecoveryDate(c.AdmittedAt), loc)
	cert := FormatThaiDate(m.calc.CertificateAvailableDate(c.AdmittedAt), loc)
	lastService := FormatThaiDate(m.calc.LastServiceDate(c.AdmittedAt), loc)

	lines := []string{
		fmt.Sprintf("❇️ แจ้งผู้ป่วย %s กักตัวระบบ HI %s", honorific(c), hospitalName),
		fmt.Sprintf("✅ ท่านได้เข้าระบบการดูแล ในวันที่ %s", admitted),
		fmt.Sprintf("✅ ครบการดูแลติดตามอาการจากรพ. ในวันที่ %s", recovery),
		fmt.Sprintf("❇️❇️ ครบการกักตัว %d วัน ในวันที่ %s และ", m.calc.Policy().TreatmentDays, recovery),
		"สามารถใช้ชีวิตตามปกติภายใต้มาตรการ ระบบวิถีชีวิตใหม่ ใส่หน้ากากอนามัย ล้างมือ เว้นระยะห่าง",
		fmt.Sprintf("- รับ ใบรับรองแพทย์ พร้อมผลตรวจ ตั้งแต่วันที่ %s ณ ห้องศูนย์HI ตึกผู้ป่วยใน %s เวลา 09.00น-15.00น", cert, hospitalName),
		fmt.Sprintf("✴️ อาหารจะได้รับตั้งแต่มื้อเย็นวันที่ %s ถึง มื้อเย็น %s", admitted, lastService),
		"✅ ขอประวัติการรับวัคซีนโควิด",
		"เข็มที่ 1 เข็มที่ 2 เข็มที่ 3 ด้วยคะ",
	}
	return line.NewTextMessage(strings.Join(lines, "\n"))
}

// ===== contact-location-submission =====

func (m *Messages) LocationRequest() line.Message {
	action := line.URIAction("ลงทะเบียนตำแหน่งที่พักอาศัย", m.liffURL(contactLocationURL))

	header := text(hospitalName+" ขอความร่วมมือลงทะเบียนตำแหน่งที่พักอาศัย", "md", "#aaaaaa")
	header.Weight = messaging_api.FlexTextWEIGHT_BOLD
	header.Wrap = true
	body := text("กรุณากดปุ่มด้านล่างเพื่อส่งตำแหน่งที่พักอาศัย เจ้าหน้าที่จะใช้ตำแหน่งนี้ในการจัดส่งอาหารและยา", "sm", "")
	body.Wrap = true
	footer := line.Box(messaging_api.FlexBoxLAYOUT_VERTICAL, &messaging_api.FlexButton{
		Style:  messaging_api.FlexButtonSTYLE_LINK,
		Color:  "#FFFFFF",
		Height: messaging_api.FlexButtonHEIGHT_SM,
		Action: action,
	})
	footer.Spacing = "sm"

	return line.NewFlexMessage("ขอความร่วมมือลงทะเบียนตำแหน่งที่พักอาศัย", &messaging_api.FlexBubble{
		Header: line.Box(messaging_api.FlexBoxLAYOUT_VERTICAL, header),
		Hero: &messaging_api.FlexImage{
			Url:         locationHero,
			Size:        "full",
			AspectRatio: "16:9",
			AspectMode:  messaging_api.FlexImageASPECT_MODE_COVER,
			Action:      action,
		},
		Body:   line.Box(messaging_api.FlexBoxLAYOUT_VERTICAL, body),
		Footer: footer,
		Styles: &messaging_api.FlexBubbleStyles{
			Footer: &messaging_api.FlexBlockStyle{BackgroundColor: "#7D9575"},
		},
	})
}

// ===== replies / push after user actions =====

// MeasurementsReceived: 画像を受け取ったときの返信
func (m *Messages) MeasurementsReceived() line.Message {
	return line.NewTextMessage(fmt.Sprintf("%s ท่านได้ส่งข้อมูล วัดอุณหภูมิ และ ค่าออกซิเจน เรียบร้อยแล้วค่ะ", m.now(false)))
}

// Welcome: フォーム新規登録後
func (m *Messages) Welcome(name string) line.Message {
	return line.NewTextMessage(fmt.Sprintf("ยินดีต้อนรับ %s เข้าสู่ระบบดูแลผู้ป่วยที่บ้าน (HI) %s", norm.NFC.String(name), hospitalName))
}

// LocationThanks: 位置情報の登録後
func (m *Messages) LocationThanks(name string) line.Message {
	name = norm.NFC.String(name)
	return line.NewTextMessage(strings.Join([]string{
		fmt.Sprintf("ขอบคุณ %s ท่านได้ลงทะเบียน สำเร็จแล้ว!!", name),
		"",
		fmt.Sprintf("กรุณา %s อย่าลืม ส่งรูป วัดอุณหภูมิ / ค่า ออกซิเจน", name),
		"ของเวลา 07.00 น และ 15.00 น เป็นประจำทุกวันน่ะครับ",
	}, "\n"))
}
