package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = ""
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopCommand    StopReason = "shutdown_phrase"
	StopAppStop    StopReason = "app_stop"
)
