package catalog

// Permission codes understood by the built-in commands.
const (
	PermAdmin      = "ADMIN"
	PermDevGod     = "DEVGOD"
	PermMarketRead = "MARKET_READ"
)

// Command codes of the built-in commands.
const (
	CodeStart    = "START"
	CodeHelp     = "HELP"
	CodeMenu     = "MENU"
	CodeLogin    = "LOGIN"
	CodeRegister = "REGISTER"
	CodeLogout   = "LOGOUT"
	CodeMe       = "ME"
	CodeDB       = "DB"
	CodeDBMenu   = "DB_MENU"
	CodeMarket   = "MARKET"
	CodeSwitch   = "SWITCH"
)

// Builtin returns the built-in command table in help order.
func Builtin() []Definition {
	return []Definition{
		{
			Code: CodeStart, Keyword: "start", Usage: "/start",
			Description: "Start a conversation",
		},
		{
			Code: CodeHelp, Keyword: "help", Usage: "/help",
			Description: "List available commands", ShowInHelp: true,
		},
		{
			Code: CodeMenu, Keyword: "menu", Usage: "/menu",
			Description: "Show the main menu", ShowInHelp: true,
		},
		{
			Code: CodeLogin, Keyword: "login", Usage: "/login <login> <password>",
			Description: "Link this chat to your account", ShowInHelp: true, NeedsArgs: true,
		},
		{
			Code: CodeRegister, Keyword: "register", Usage: "/register <login> <password>",
			Description: "Create an account and link this chat", ShowInHelp: true, NeedsArgs: true,
		},
		{
			Code: CodeLogout, Keyword: "logout", Usage: "/logout",
			Description: "Unlink this chat from your account", ShowInHelp: true,
		},
		{
			Code: CodeMe, Keyword: "me", Usage: "/me",
			Description: "Show your account and permissions", ShowInHelp: true,
		},
		{
			Code: CodeMarket, Keyword: "market", Usage: "/market <instruments|quote|candles|orderbook|trades> [args]",
			Description: "Market data", ShowInHelp: true, Toggleable: true, NeedsArgs: true,
			RequiredAny: []string{PermMarketRead, PermAdmin},
		},
		{
			Code: CodeDB, Keyword: "db", Usage: "/db <sql> | /db tables | /db format <table|list|sections>",
			Description: "SQL console", ShowInHelp: true, DevOnly: true, Toggleable: true, NeedsArgs: true,
			RequiredAll: []string{PermDevGod},
		},
		{
			Code: CodeDBMenu, Keyword: "db_menu", Usage: "/db_menu",
			Description: "SQL console shortcuts", DevOnly: true, Toggleable: true,
			RequiredAll: []string{PermDevGod},
		},
		{
			Code: CodeSwitch, Keyword: "switch", Usage: "/switch list | /switch <on|off> <code> [note]",
			Description: "Enable or disable commands", ShowInHelp: true, DevOnly: true,
			RequiredAll: []string{PermAdmin},
		},
	}
}

// Default builds a Catalog from Builtin.
func Default() *Catalog {
	return MustNew(Builtin())
}
