package convo

import (
	"fmt"
	"strings"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

const (
	msgCancelled       = "🔹 Action has been cancelled."
	msgNothingToCancel = "🔹 There is no active action to cancel."
	msgFlowExpired     = "⌛ Your previous action expired. Please start it again from the menu."
	msgGenericFailure  = "⚠️ Something went wrong. Please try again later."
	msgRegisterFirst   = "Please press /start to register."
	msgInvalidQuery    = "That doesn't seem to be a valid command or phone number. Please use the menu buttons or send a 10-digit number."
	msgInsufficient    = "You have insufficient credits. Tap *" + ButtonBuy + "* to top up."
	msgGateError       = "⛔️ Error verifying channel membership. Please contact support."

	msgProcessing    = "🔎 Accessing database... This will consume 1 credit."
	msgLookupFailed  = "❌ *No Data Found.*\nPlease check the number and try again. Your credit has been refunded."
	msgLostDebitRace = "❌ You have insufficient credits. No credit was consumed."

	msgGrantAskTarget     = "👤 Please send the User ID of the recipient.\n\nType /cancel to abort."
	msgGrantInvalidTarget = "❗️Invalid ID format. Please send numbers only or type /cancel."
	msgGrantUnknownTarget = "⚠️ User not found. Please check the ID and try again, or type /cancel."
	msgGrantInvalidAmount = "❗️Invalid amount. Please send a positive number or type /cancel."

	msgBroadcastAsk = "📢 Please send the message to broadcast.\n\nType /cancel to abort."
)

func accessDeniedText(channel string) string {
	return fmt.Sprintf("❗️ *Access Denied*\n\nTo use this bot, you must join our official channel.\nPlease join 👉 %s and then press /start.", tg.EscapeMarkdown(channel))
}

func grantAskAmountText(target string) string {
	return fmt.Sprintf("✅ User `%s` found. Now, please send the amount of credits to add.", target)
}

func grantDoneText(amount, target string) string {
	return fmt.Sprintf("✅ Success! Added %s credits to user %s.", amount, target)
}

func grantNoticeText(amount string) string {
	return fmt.Sprintf("🎉 An administrator has added *%s credits* to your account!", amount)
}

func broadcastStartText(n int) string {
	return fmt.Sprintf("⏳ Broadcasting your message to %d users...", n)
}

func broadcastDoneText(res BroadcastResult) string {
	return fmt.Sprintf("📢 *Broadcast Complete!*\n✅ Sent: %d\n❌ Failed: %d", res.Sent, res.Failed)
}

func lookupSummaryText(n int, number string) string {
	return fmt.Sprintf("✅ *Database Report Generated!*\nFound *%d* record(s) for `%s`. Details below:", n, number)
}

func balanceText(credits int64) string {
	return fmt.Sprintf("💳 Credits remaining: *%d*", credits)
}

func referralNoticeText(balance int64) string {
	return fmt.Sprintf("🎉 *1 Referral Received!*\nYour new balance is now *%d credits*.", balance)
}

func newMemberAlertText(msg tg.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 New Member Alert!\nName: %s\nProfile: [%d](tg://user?id=%d)",
		tg.EscapeMarkdown(msg.FirstName), msg.UserID, msg.UserID)
	if msg.Username != "" {
		fmt.Fprintf(&b, "\nUsername: @%s", tg.EscapeMarkdown(msg.Username))
	}
	return b.String()
}

func welcomeNewText(name string, credits int64) string {
	return fmt.Sprintf("🎉 Welcome aboard, %s!\n\nAs a new member, you've received *%d free credits*.", tg.EscapeMarkdown(name), credits)
}

func dashboardText(acc *ledger.Account) string {
	return "🎯 *Welcome*\n\n" +
		"🔍 Phone number lookup bot\n\n" +
		"📱 Send a 10-digit phone number to get its report.\n\n" +
		fmt.Sprintf("💳 *Your Credits:* %d\n", acc.Credits) +
		fmt.Sprintf("📊 *Total Searches:* %d\n", acc.SearchCount) +
		fmt.Sprintf("📅 *Member Since:* %s", formatDate(acc.JoinedAt))
}

func accountText(name string, acc *ledger.Account) string {
	return fmt.Sprintf("🎯 *Welcome,* %s!", tg.EscapeMarkdown(name)) +
		fmt.Sprintf("\n\n💳 *Your Credits:* %d", acc.Credits) +
		fmt.Sprintf("\n📊 *Total Searches:* %d", acc.SearchCount) +
		fmt.Sprintf("\n🗓️ *Member Since:* %s", formatDate(acc.JoinedAt))
}

func helpText(referralCredit int64, support string) string {
	return "❓ *Help & Support Center*\n\n" +
		"🔍 *How to Use:*\n• Send a phone number to get its report.\n• Each search costs 1 credit.\n\n" +
		fmt.Sprintf("🎁 *Referral Program:*\n• Get %d credit per successful referral.\n\n", referralCredit) +
		fmt.Sprintf("👤 *Support:* %s", tg.EscapeMarkdown(support))
}

func referText(acc *ledger.Account, link string, cfg ledger.Config) string {
	return "🎁 *Refer & Earn Credits*\n\n" +
		"📊 *Your Performance:*\n" +
		fmt.Sprintf("👥 Total Referrals: %d\n", acc.ReferralCount) +
		fmt.Sprintf("💰 Credits Earned: %d\n\n", acc.ReferralCredits) +
		"💡 *How It Works:*\n" +
		"• Share your referral link with friends\n" +
		fmt.Sprintf("• They get %d free credits when joining\n", cfg.InitialCredits) +
		fmt.Sprintf("• You earn %d credit for each successful referral\n\n", cfg.ReferralCredit) +
		"📱 *Your Referral Link:*\n" +
		fmt.Sprintf("`%s`\n\n", link) +
		"🚀 Start sharing to earn unlimited credits!"
}

func buyText(support string) string {
	return "💰 *Buy Credits - Price List*\n" +
		"━━━━━━━━━━━━━━━━━━━━━━━━\n" +
		"💎 *STARTER* - 25 Credits (₹49)\n" +
		"🔥 *BASIC* - 100 Credits (₹149)\n" +
		"⭐ *PRO* - 500 Credits (₹499)\n" +
		"━━━━━━━━━━━━━━━━━━━━━━━━\n" +
		fmt.Sprintf("💬 Contact admin to buy: %s", tg.EscapeMarkdown(support))
}

func memberStatusText(total int64) string {
	return fmt.Sprintf("📊 *Bot Member Status*\n\nTotal Members: *%d*", total)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return placeholder
	}
	return t.UTC().Format("02 Jan 2006")
}
