package convo

import "github.com/Titusvirous/ToxicInfoBot/internal/tg"

// Menu button labels. Pressing a button sends its label as a text message.
const (
	ButtonRefer      = "Refer & Earn 🎁"
	ButtonBuy        = "Buy Credits 💰"
	ButtonAccount    = "My Account 📊"
	ButtonHelp       = "Help ❓"
	ButtonAddCredit  = "Add Credit 👤"
	ButtonBroadcast  = "Broadcast 📢"
	ButtonMemberStat = "Member Status 👥"
)

// MainMenu returns the reply keyboard for a user. Admins get two extra rows.
func MainMenu(admin bool) *tg.Keyboard {
	rows := [][]string{
		{ButtonRefer, ButtonBuy},
		{ButtonAccount, ButtonHelp},
	}
	if admin {
		rows = append(rows,
			[]string{ButtonAddCredit, ButtonBroadcast},
			[]string{ButtonMemberStat},
		)
	}
	return &tg.Keyboard{Rows: rows}
}
