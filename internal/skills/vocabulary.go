package skills

import "squire/internal/classify"

// Keywords maps a skill group to the phrases that trigger it.
// Singular and plural forms are both listed where it matters.
var Keywords = map[string][]string{
	"current_date":      {"today's date", "current date", "what is the date", "what's the date", "todays date", "whats the date"},
	"current_time":      {"current time", "time now", "time in", "what is the time", "what's the time", "whats the time", "tell me the time", "what time"},
	"weather":           {"weather", "temperature", "sunrise", "sun rise", "sunset", "sun set"},
	"system_info":       {"configuration"},
	"ip_info":           {"address"},
	"wikipedia":         {"wikipedia", "info", "information"},
	"news":              {"news"},
	"robinhood":         {"robinhood", "investment", "portfolio", "summary"},
	"apps":              {"launch"},
	"listener_control":  {"listener"},
	"secrets":           {"secret", "secrets", "param", "params", "parameter", "parameters"},
	"location":          {"location", "where are you"},
	"locate":            {"locate", "where is my", "where's my", "wheres my"},
	"read_gmail":        {"email", "mail", "mails", "emails"},
	"meaning":           {"meaning", "dictionary", "definition", "meanings", "definitions"},
	"todo":              {"plan", "to do", "to-do", "todo", "plans"},
	"distance":          {"far", "distance", "miles", "kilometers", "mile", "kilometer"},
	"avoid":             {"sun", "moon", "mercury", "venus", "earth", "mars", "jupiter", "saturn", "uranus", "neptune", "pluto", "a.m.", "p.m.", "update my to do list", "launch", "safari", "body", "human", "centimeter", "server", "cloud", "update"},
	"locate_places":     {"where is", "where's", "which city", "which state", "which country", "which county", "wheres"},
	"set_alarm":         {"alarm", "wake me", "timer"},
	"reminder":          {"remind", "reminder", "reminders"},
	"google_home":       {"google home", "googlehome"},
	"ngrok":             {"ngrok", "public url"},
	"jokes":             {"joke", "jokes", "make me laugh"},
	"github":            {"git", "github", "clone"},
	"send_notification": {"message", "text", "sms", "mail", "email", "messages", "mails", "emails"},
	"television":        {"tv", "television"},
	"volume":            {"volume", "mute"},
	"faces":             {"face", "recognize", "who am i", "detect", "facial", "recognition", "detection", "faces"},
	"speed_test":        {"speed", "fast"},
	"brightness":        {"brightness", "bright", "dim"},
	"lights":            {"light", "party mode", "lights"},
	"guard_enable":      {"turn on security mode", "enable security mode", "turn on guardian mode", "enable guardian mode"},
	"guard_disable":     {"turn off security mode", "disable security mode", "turn off guardian mode", "disable guardian mode"},
	"flip_a_coin":       {"head", "tail", "flip", "heads", "tails"},
	"facts":             {"fact", "facts"},
	"meetings":          {"meeting", "meetings"},
	"events":            {"event", "events"},
	"system_vitals":     {"vitals", "statistics", "readings", "stats"},
	"vpn_server":        {"vpn"},
	"car":               {"car", "vehicle"},
	"garage":            {"garage"},
	"automation":        {"automation"},
	"background_tasks":  {"background"},
	"photo":             {"picture", "snap", "photo", "pictures", "photos"},
	"version":           {"version"},
	"simulation":        {"simulator", "variation", "simulation", "variations"},
	"sleep_control":     {"lock", "screen", "pc", "computer"},
	"kill":              {"kill", "terminate yourself", "stop running"},
}

// Conversation maps small-talk groups to their phrases.
var Conversation = map[string][]string{
	"greeting":     {"how are you", "how are you doing", "how have you been", "how do you do", "how's it going", "hows it going"},
	"capabilities": {"what can you do", "what all can you do", "what are your capabilities", "what's your capacity", "what are you capable of", "whats your capacity"},
	"languages": {"what languages do you speak", "what are all the languages you can speak", "what languages do you know",
		"can you speak in a different language", "how many languages can you speak", "what are you made of",
		"what languages can you speak", "what are the languages you can speak"},
	"what":     {"what are you"},
	"who":      {"who are you", "what do i call you", "what's your name", "what is your name", "whats your name"},
	"age":      {"how old are you", "what is your age", "what's your age", "whats your age"},
	"form":     {"where is your body", "where's your body", "wheres your body"},
	"whats_up": {"what's up", "what is up", "what's going on", "sup", "whats up"},
	"about_me": {"tell me about you", "tell me something about you", "i would like to get you know you", "tell me about yourself"},
}

// offlineGroups are the keyword groups that never need a follow-up question.
var offlineGroups = []string{
	"sleep_control", "set_alarm", "current_time", "photo", "apps", "distance", "faces", "facts",
	"weather", "wikipedia", "flip_a_coin", "jokes", "todo", "locate_places", "read_gmail",
	"google_home", "guard_enable", "guard_disable", "lights", "robinhood", "current_date", "ip_info",
	"brightness", "news", "listener_control", "location", "vpn_server", "reminder", "system_info",
	"system_vitals", "volume", "meaning", "meetings", "events", "car", "garage", "github",
	"speed_test", "ngrok", "locate", "send_notification", "television", "automation",
	"background_tasks", "version", "simulation",
}

var conversationGroups = []string{"age", "about_me", "capabilities", "form", "greeting", "languages", "what", "whats_up", "who"}

// Compatibility builds the offline compatibility set.
func Compatibility() *classify.CompatibilitySet {
	groups := make([][]string, 0, len(offlineGroups)+len(conversationGroups))
	for _, g := range offlineGroups {
		groups = append(groups, Keywords[g])
	}
	for _, g := range conversationGroups {
		groups = append(groups, Conversation[g])
	}
	return classify.NewCompatibilitySet(groups...)
}

// Rules builds the classifier's exclusion table.
func Rules() classify.RuleTable {
	return classify.NewRuleTable(
		classify.Rule{Kind: classify.RuleIgnore, Name: "alarm", Phrases: []string{"alarm", "remind"}, Mode: classify.MatchSubstring},
		classify.Rule{Kind: classify.RuleSplit, Name: "send_notification", Phrases: Keywords["send_notification"]},
		classify.Rule{Kind: classify.RuleSplit, Name: "reminder", Phrases: Keywords["reminder"]},
		classify.Rule{Kind: classify.RuleSplit, Name: "distance", Phrases: Keywords["distance"]},
		classify.Rule{Kind: classify.RuleSplit, Name: "avoid", Phrases: Keywords["avoid"]},
		classify.Rule{Kind: classify.RuleDelay, Name: "meetings", Phrases: Keywords["meetings"]},
		classify.Rule{Kind: classify.RuleDelay, Name: "avoid", Phrases: Keywords["avoid"]},
		classify.Rule{Kind: classify.RuleDelay, Name: "set_alarm", Phrases: Keywords["set_alarm"]},
		classify.Rule{Kind: classify.RuleDelay, Name: "reminder", Phrases: Keywords["reminder"]},
	)
}

// Controls returns the privileged short-circuit phrases.
func Controls() classify.Controls {
	return classify.Controls{
		Kill:        Keywords["kill"],
		Override:    "override",
		Secrets:     Keywords["secrets"],
		SecretVerbs: []string{"list", "get"},
	}
}

// NewClassifier wires the vocabulary into a classifier.
func NewClassifier() *classify.Classifier {
	return classify.New(Compatibility(), Rules(), Controls())
}
