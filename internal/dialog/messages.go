package dialog

const (
	MsgAskUsername      = "📛 Please enter a username (no spaces):"
	MsgUsernameInvalid  = "❌ Username must not be empty or contain spaces."
	MsgUsernameTaken    = "❌ Username already exists. Try a different one."
	MsgAskEmail         = "📧 Enter your email to receive a code:"
	MsgCodeSent         = "📩 Code sent to your email. Please enter it:"
	MsgCodeSendFailed   = "❌ Could not send the code. Please start again."
	MsgRegisterBadCode  = "❌ Invalid code. Try again."
	MsgRegistered       = "✅ Registration complete. You can now /login."
	MsgRegisterRace     = "❌ That username was taken meanwhile. Please /register again."
	MsgAskLoginUsername = "🔐 Please enter your username:"
	MsgLoginUnknown     = "❌ Invalid or unverified username."
	MsgLoginCodeSent    = "📩 Code sent to your registered email. Please enter it:"
	MsgLoginBadCode     = "❌ Incorrect code. Try again."
	MsgLoginWelcome     = "✅ Login successful. Welcome back, %s"
	MsgDisplaced        = "⚠️ You have been logged out. This account was accessed from another device."
	MsgDialogueExpired  = "⌛ That dialogue expired. Please start again with /register or /login."
	MsgEmailEmpty       = "❌ Please enter an email address."
)
