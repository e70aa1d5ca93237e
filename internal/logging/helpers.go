package logging

// Convenience wrappers at Info/Debug level for the core's hot categories,
// following the package's CategoryXxx/CategoryXxxDebug helper pattern so
// call sites don't need to spell out Get(CategoryX).Info(...) everywhere.

func Mention(format string, args ...interface{})      { Get(CategoryMention).Info(format, args...) }
func MentionDebug(format string, args ...interface{}) { Get(CategoryMention).Debug(format, args...) }
func Speaker(format string, args ...interface{})      { Get(CategorySpeaker).Info(format, args...) }
func SpeakerDebug(format string, args ...interface{}) { Get(CategorySpeaker).Debug(format, args...) }
func TurnMgr(format string, args ...interface{})      { Get(CategoryTurnMgr).Info(format, args...) }
func Window(format string, args ...interface{})       { Get(CategoryWindow).Info(format, args...) }
func WindowDebug(format string, args ...interface{})  { Get(CategoryWindow).Debug(format, args...) }
func Turn(format string, args ...interface{})         { Get(CategoryTurn).Info(format, args...) }
func TurnDebug(format string, args ...interface{})    { Get(CategoryTurn).Debug(format, args...) }
func Tools(format string, args ...interface{})        { Get(CategoryTools).Info(format, args...) }
func ToolsDebug(format string, args ...interface{})   { Get(CategoryTools).Debug(format, args...) }
func Permission(format string, args ...interface{})   { Get(CategoryPermission).Info(format, args...) }
func PermissionDebug(format string, args ...interface{}) {
	Get(CategoryPermission).Debug(format, args...)
}
func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func Summarizer(format string, args ...interface{}) { Get(CategorySummarizer).Info(format, args...) }
func LLMDebug(format string, args ...interface{})   { Get(CategoryLLM).Debug(format, args...) }
