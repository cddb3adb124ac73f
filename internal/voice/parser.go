// Package voice turns spoken maintenance requests (already transcribed to
// text) into work order intents using ordered keyword tables.
package voice

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"chatterfix/internal/utils"
	"chatterfix/types"
)

// Action is what the speaker asked for
type Action string

const (
	ActionComplete Action = "complete_work_order"
	ActionStatus   Action = "check_status"
	ActionList     Action = "list_work_orders"
	ActionCreate   Action = "create_work_order"
	ActionUnknown  Action = "unknown"
)

// Intent is the parsed form of a transcript
type Intent struct {
	Action      Action         `json:"action"`
	Category    types.Category `json:"category"`
	Priority    types.Priority `json:"priority"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	AssetID     *int64         `json:"asset_id,omitempty"`
	WorkOrderID *int64         `json:"work_order_id,omitempty"`
	Confidence  float64        `json:"confidence"`
	Keywords    []string       `json:"keywords"`
}

type keywordRule[T any] struct {
	value    T
	keywords []*regexp.Regexp
}

func rule[T any](value T, words ...string) keywordRule[T] {
	r := keywordRule[T]{value: value}
	for _, w := range words {
		r.keywords = append(r.keywords, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return r
}

// match returns the first rule with a hit, plus the keywords it matched.
func match[T any](rules []keywordRule[T], text string) (T, []string, bool) {
	for _, r := range rules {
		var hits []string
		for _, kw := range r.keywords {
			if kw.MatchString(text) {
				hits = append(hits, kw.FindString(text))
			}
		}
		if len(hits) > 0 {
			return r.value, hits, true
		}
	}
	var zero T
	return zero, nil, false
}

// Rules are evaluated in order and the first matching rule wins.
var (
	actionRules = []keywordRule[Action]{
		rule(ActionComplete, "complete", "completed", "finished", "mark done", "mark as done", "close out", "closed out", "resolved"),
		rule(ActionStatus, "status", "what's happening with", "check on", "update on", "progress on"),
		rule(ActionList, "list", "show me", "what are my", "open work orders", "my work orders", "pending work"),
		rule(ActionCreate, "create", "new work order", "report", "broken", "not working", "fix", "repair", "replace",
			"leak", "leaking", "noise", "failed", "failing", "stuck", "needs"),
	}

	categoryRules = []keywordRule[types.Category]{
		rule(types.CategorySafety, "fire", "smoke", "gas leak", "injury", "hazard", "unsafe", "spill", "exposed wire"),
		rule(types.CategoryElectrical, "electrical", "power", "outlet", "breaker", "wiring", "circuit", "light", "lights", "voltage", "spark", "sparking"),
		rule(types.CategoryPlumbing, "leak", "leaking", "pipe", "water", "drain", "toilet", "faucet", "clog", "clogged", "sink"),
		rule(types.CategoryHVAC, "hvac", "air conditioning", "ac", "heating", "heater", "furnace", "thermostat", "ventilation", "cooling", "boiler", "chiller"),
		rule(types.CategoryMechanical, "motor", "pump", "bearing", "belt", "conveyor", "gear", "gearbox", "vibration", "vibrating", "grinding", "compressor", "noise"),
	}

	priorityRules = []keywordRule[types.Priority]{
		rule(types.PriorityCritical, "emergency", "urgent", "immediately", "critical", "asap", "dangerous", "flooding", "fire", "smoke"),
		rule(types.PriorityHigh, "high priority", "important", "soon", "broken", "not working", "down", "stopped"),
		rule(types.PriorityLow, "low priority", "whenever", "minor", "cosmetic", "when you can", "no rush"),
	}

	assetRef     = regexp.MustCompile(`\basset\s*(?:number\s*|no\.?\s*|#\s*)?(\d+)`)
	workOrderRef = regexp.MustCompile(`\b(?:work\s*order|ticket)\s*(?:number\s*|no\.?\s*|#\s*)?(\d+)|#\s*(\d+)`)

	fillerPrefixes = []string{
		"please ", "hey ", "can you ", "could you ", "i need to ", "i need ", "i want to ",
		"create a work order for ", "create a work order ", "create work order for ", "new work order for ",
		"report ", "there is ", "there's ", "we have ",
	}
)

const maxTitleLength = 80

// Parse classifies a transcript. It never fails; unrecognized input yields ActionUnknown.
func Parse(transcript string) Intent {
	text := strings.ToLower(strings.Join(strings.Fields(transcript), " "))
	intent := Intent{
		Action:   ActionUnknown,
		Category: types.CategoryGeneral,
		Priority: types.PriorityMedium,
		Keywords: []string{},
	}
	if text == "" {
		return intent
	}

	// Asset references are cut out first so "asset #7" is not read as work order 7.
	rest := text
	if m := assetRef.FindStringSubmatchIndex(rest); m != nil {
		intent.AssetID = parseID(rest[m[2]:m[3]])
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}
	if m := workOrderRef.FindStringSubmatch(rest); m != nil {
		if m[1] != "" {
			intent.WorkOrderID = parseID(m[1])
		} else {
			intent.WorkOrderID = parseID(m[2])
		}
	}

	category, categoryHits, categoryFound := match(categoryRules, text)
	if categoryFound {
		intent.Category = category
	}
	priority, priorityHits, priorityFound := match(priorityRules, text)
	if priorityFound {
		intent.Priority = priority
	}
	action, actionHits, actionFound := match(actionRules, text)

	switch {
	case actionFound:
		intent.Action = action
	case categoryFound || priorityFound:
		intent.Action = ActionCreate
	}

	if keywords := utils.UniqueStrings(append(append(actionHits, categoryHits...), priorityHits...)); keywords != nil {
		intent.Keywords = keywords
	}
	intent.Confidence = utils.Clamp(0.3+0.15*float64(len(intent.Keywords)), 0, 1)

	if intent.Action == ActionCreate {
		intent.Title = titleFrom(transcript)
		intent.Description = strings.TrimSpace(transcript)
	}
	return intent
}

func parseID(s string) *int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// titleFrom takes the first sentence, drops conversational openers and caps the length.
func titleFrom(transcript string) string {
	title := strings.Join(strings.Fields(transcript), " ")
	if i := strings.IndexAny(title, ".!?"); i > 0 {
		title = title[:i]
	}

	for trimmed := true; trimmed; {
		trimmed = false
		lower := strings.ToLower(title)
		for _, prefix := range fillerPrefixes {
			if strings.HasPrefix(lower, prefix) && len(title) > len(prefix) {
				title = title[len(prefix):]
				trimmed = true
				break
			}
		}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return "Voice work order"
	}
	runes := []rune(title)
	runes[0] = unicode.ToUpper(runes[0])
	return utils.Truncate(string(runes), maxTitleLength)
}
