package components

// Keys understood by the session monitor
const (
	KeyQuit    = "q"
	KeyQuitAlt = "ctrl+c"

	// Toggle the recent tool list under each session
	KeyTools = "t"
)
