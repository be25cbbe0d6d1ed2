package events

import "strings"

const DefaultPrefix = "bladeloader"

// Topics builds the topic names under one prefix.
//
//	bladeloader/status            retained online/offline
//	bladeloader/workflow/state    retained, every transition
//	bladeloader/workflow/progress hooks done of total
//	bladeloader/workflow/complete cycle summary
//	bladeloader/workflow/error    state and cause of a failure
//	bladeloader/workflow/drift    tracked vs sensed after a descent
type Topics struct {
	prefix string
}

// NewTopics returns topics under prefix, or DefaultPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

func (t Topics) Status() string   { return t.prefix + "/status" }
func (t Topics) State() string    { return t.prefix + "/workflow/state" }
func (t Topics) Progress() string { return t.prefix + "/workflow/progress" }
func (t Topics) Complete() string { return t.prefix + "/workflow/complete" }
func (t Topics) Error() string    { return t.prefix + "/workflow/error" }
func (t Topics) Drift() string    { return t.prefix + "/workflow/drift" }
