package telegram

import (
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/switchyard/pkg/bus"
)

// menuKeyboard renders the inline keyboard a notice asked for. Button
// payloads use the "verb:subject" form parseCallback understands.
func menuKeyboard(menu bus.Menu, subject int64) *telego.InlineKeyboardMarkup {
	sub := strconv.FormatInt(subject, 10)
	switch menu {
	case bus.MenuUserIdle:
		return tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("📝 Request conversation").WithCallbackData("apply"),
			),
		)
	case bus.MenuUserPending:
		return tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("✖️ Cancel request").WithCallbackData("cancel"),
			),
		)
	case bus.MenuUserActive:
		return tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("🏁 End conversation").WithCallbackData("end"),
			),
		)
	case bus.MenuRequest:
		return tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("✅ Accept").WithCallbackData("accept:"+sub),
				tu.InlineKeyboardButton("❌ Reject").WithCallbackData("reject:"+sub),
			),
		)
	case bus.MenuSession:
		return tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("🏁 End").WithCallbackData("end:"+sub),
				tu.InlineKeyboardButton("🚫 Ban").WithCallbackData("ban:"+sub),
			),
		)
	case bus.MenuPanel:
		return tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("📨 Pending requests").WithCallbackData("pending"),
			),
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("💬 Active sessions").WithCallbackData("sessions"),
			),
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("📊 Stats").WithCallbackData("stats"),
			),
		)
	default:
		return nil
	}
}
